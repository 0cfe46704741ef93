package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	commonmqtt "github.com/sshahnawaz567/AI-real-time-proctoring/common/mqtt"
	commonredis "github.com/sshahnawaz567/AI-real-time-proctoring/common/redis"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/config"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// Emitter 告警发布器
// 将最新告警状态写入 Redis 缓存（供看板轮询），并把告警事件
// 发布到 Redis Stream 和 MQTT 主题（MQTT 未配置时跳过）
type Emitter struct {
	config      *config.Config
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client
	logger      *zap.Logger
}

// NewEmitter 创建告警发布器
func NewEmitter(
	cfg *config.Config,
	redisClient *redis.Client,
	mqttClient *commonmqtt.Client,
	logger *zap.Logger,
) *Emitter {
	return &Emitter{
		config:      cfg,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
	}
}

// stateKey 告警状态缓存键
func (e *Emitter) stateKey(sessionID string) string {
	return fmt.Sprintf("%s%s:state", e.config.Baseline.KeyPrefix, sessionID)
}

// CacheWarningState 缓存本tick的告警状态（带短 TTL）
func (e *Emitter) CacheWarningState(ctx context.Context, sessionID string, state models.WarningState) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal warning state: %w", err)
	}

	ttl := time.Duration(e.config.Alert.StateTTL) * time.Second
	err = e.redisClient.Set(ctx, e.stateKey(sessionID), jsonData, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache warning state: %w", err)
	}

	return nil
}

// EmitAlertEvent 发布告警事件
// 发布失败只记录日志，不中断监控循环
func (e *Emitter) EmitAlertEvent(ctx context.Context, event models.AlertEvent) {
	// 1. Redis Stream
	if _, err := commonredis.PublishJSONToStream(ctx, e.redisClient, e.config.Alert.Stream, event); err != nil {
		e.logger.Error("Failed to publish alert event to stream",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	e.logger.Info("Alert event emitted",
		zap.String("event_id", event.EventID),
		zap.String("alarm_level", event.AlarmLevel),
		zap.String("message", event.Message),
	)

	// 2. MQTT（未配置时跳过）
	if e.mqttClient == nil || e.config.Alert.MQTTTopic == "" {
		return
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("Failed to marshal alert event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	if err := e.mqttClient.Publish(e.config.Alert.MQTTTopic, e.config.MQTT.QoS, false, jsonData); err != nil {
		e.logger.Error("Failed to publish alert event to MQTT",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}
