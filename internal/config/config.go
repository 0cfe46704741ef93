package config

import (
	"strconv"
	"strings"

	"github.com/sshahnawaz567/AI-real-time-proctoring/common/config"
)

// Config 监考服务配置
type Config struct {
	Redis config.RedisConfig
	MQTT  config.MQTTConfig

	// 感知模型服务配置
	Perception struct {
		CaptureURL string // 采集源快照服务地址
		PoseURL    string // 姿态模型服务地址
		FaceURL    string // 人脸模型服务地址
		ObjectURL  string // 物体模型服务地址
		TimeoutSec int    // 单次推理请求超时（秒），默认 5
		RetryCount int    // 请求重试次数，默认 2
	}

	// 监控策略配置
	Monitor struct {
		TickIntervalMs     int     // 评估周期（毫秒），默认 300
		CenteringTolerance float64 // 居中容差（归一化坐标），默认 0.08
		SettleDelayMs      int     // 采集前的居中确认延迟（毫秒），默认 300
		MovementThreshold  float64 // 头部移动阈值（单轴），默认 0.02
		IdentityThreshold  float64 // 身份距离阈值（严格大于判为他人），默认 0.6

		// 采集光照带（归一化亮度）
		Lighting struct {
			Min float64 // 低光下限，默认 0.25
			Max float64 // 高光上限，默认 0.85
		}

		// 违禁物品检测
		ForbiddenLabels     []string // 违禁类别（大小写不敏感）
		ObjectConfThreshold float64  // 物体置信度阈值，默认 0.5
	}

	// 基线存储配置
	Baseline struct {
		KeyPrefix string // 基线键前缀，如 "proctor:session:"
		TTLSec    int    // 基线键 TTL（秒），0 表示不过期
	}

	// 告警发布配置
	Alert struct {
		Stream    string // Redis Stream 名称
		MQTTTopic string // MQTT 主题（为空则不发布 MQTT）
		StateTTL  int    // 告警状态缓存 TTL（秒），默认 10
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Redis.Addr = config.GetEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = config.GetEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = config.GetEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = config.GetEnv("MQTT_CLIENT_ID", "proctor-monitor")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	// 感知模型服务
	cfg.Perception.CaptureURL = config.GetEnv("PERCEPTION_CAPTURE_URL", "http://localhost:8500")
	cfg.Perception.PoseURL = config.GetEnv("PERCEPTION_POSE_URL", "http://localhost:8501")
	cfg.Perception.FaceURL = config.GetEnv("PERCEPTION_FACE_URL", "http://localhost:8502")
	cfg.Perception.ObjectURL = config.GetEnv("PERCEPTION_OBJECT_URL", "http://localhost:8503")
	cfg.Perception.TimeoutSec = getEnvInt("PERCEPTION_TIMEOUT_SEC", 5)
	cfg.Perception.RetryCount = getEnvInt("PERCEPTION_RETRY_COUNT", 2)

	// 监控策略
	cfg.Monitor.TickIntervalMs = getEnvInt("MONITOR_TICK_MS", 300)
	cfg.Monitor.CenteringTolerance = getEnvFloat("MONITOR_CENTERING_TOLERANCE", 0.08)
	cfg.Monitor.SettleDelayMs = getEnvInt("MONITOR_SETTLE_DELAY_MS", 300)
	cfg.Monitor.MovementThreshold = getEnvFloat("MONITOR_MOVEMENT_THRESHOLD", 0.02)
	cfg.Monitor.IdentityThreshold = getEnvFloat("MONITOR_IDENTITY_THRESHOLD", 0.6)
	cfg.Monitor.Lighting.Min = getEnvFloat("MONITOR_LIGHTING_MIN", 0.25)
	cfg.Monitor.Lighting.Max = getEnvFloat("MONITOR_LIGHTING_MAX", 0.85)
	cfg.Monitor.ForbiddenLabels = getEnvList("MONITOR_FORBIDDEN_LABELS",
		"cell phone,phone,tablet,book,remote,backpack,mouse,television,keyboard,laptop")
	cfg.Monitor.ObjectConfThreshold = getEnvFloat("MONITOR_OBJECT_CONF_THRESHOLD", 0.5)

	// 基线存储
	cfg.Baseline.KeyPrefix = config.GetEnv("BASELINE_KEY_PREFIX", "proctor:session:")
	cfg.Baseline.TTLSec = getEnvInt("BASELINE_TTL_SEC", 0)

	// 告警发布
	cfg.Alert.Stream = config.GetEnv("ALERT_STREAM", "proctor:alerts")
	cfg.Alert.MQTTTopic = config.GetEnv("ALERT_MQTT_TOPIC", "proctor/alerts")
	cfg.Alert.StateTTL = getEnvInt("ALERT_STATE_TTL_SEC", 10)

	cfg.Log.Level = config.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = config.GetEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := config.GetEnv(key, ""); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := config.GetEnv(key, ""); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue string) []string {
	raw := config.GetEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}
