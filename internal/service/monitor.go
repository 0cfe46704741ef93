package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	commonmqtt "github.com/sshahnawaz567/AI-real-time-proctoring/common/mqtt"
	commonredis "github.com/sshahnawaz567/AI-real-time-proctoring/common/redis"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/adapter"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/alert"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/baseline"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/config"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/emitter"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/evaluator"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/scheduler"
)

// MonitorService 监考监控服务（整合各层）
// 一次只管理一个活动会话
type MonitorService struct {
	config      *config.Config
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client
	logger      *zap.Logger
	sessionID   string

	// 各层组件
	adapters        *adapter.Adapters
	baselineManager *baseline.Manager
	frameEvaluator  *evaluator.FrameEvaluator
	prioritizer     *alert.Prioritizer
	emitter         *emitter.Emitter
	scheduler       *scheduler.Scheduler
}

// NewMonitorService 创建监控服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 1. 连接 Redis
	redisClient := commonredis.NewRedisClient(&cfg.Redis)

	ctx := context.Background()
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 2. 连接 MQTT（未配置 broker 时跳过）
	var mqttClient *commonmqtt.Client
	if cfg.MQTT.Broker != "" {
		var err error
		mqttClient, err = commonmqtt.NewClient(&cfg.MQTT)
		if err != nil {
			logger.Warn("MQTT unavailable, alert events will only go to redis stream",
				zap.Error(err),
			)
			mqttClient = nil
		}
	}

	// 3. 创建会话
	sessionID := uuid.New().String()

	// 4. 创建信号适配器（采集源 + 三个感知模型客户端）
	timeout := time.Duration(cfg.Perception.TimeoutSec) * time.Second
	frameSource := adapter.NewHTTPFrameSource(cfg.Perception.CaptureURL, timeout, logger)
	poseClient := adapter.NewPoseClient(cfg.Perception.PoseURL, timeout, cfg.Perception.RetryCount, logger)
	faceClient := adapter.NewFaceClient(cfg.Perception.FaceURL, timeout, cfg.Perception.RetryCount, logger)
	objectClient := adapter.NewObjectClient(cfg.Perception.ObjectURL, timeout, cfg.Perception.RetryCount, logger)
	adapters := adapter.NewAdapters(frameSource, poseClient, faceClient, objectClient, logger)

	// 5. 创建基线管理器
	kv := baseline.NewRedisKVStore(redisClient)
	baselineManager := baseline.NewManager(cfg, kv, sessionID, logger)

	// 6. 创建评估与告警层
	frameEvaluator := evaluator.NewFrameEvaluator(cfg, baselineManager, logger)
	prioritizer := alert.NewPrioritizer(cfg.Monitor.MovementThreshold)
	alertEmitter := emitter.NewEmitter(cfg, redisClient, mqttClient, logger)

	// 7. 创建调度器
	sched := scheduler.NewScheduler(
		cfg,
		adapters,
		baselineManager,
		frameEvaluator,
		prioritizer,
		alertEmitter,
		sessionID,
		logger,
	)

	return &MonitorService{
		config:          cfg,
		redisClient:     redisClient,
		mqttClient:      mqttClient,
		logger:          logger,
		sessionID:       sessionID,
		adapters:        adapters,
		baselineManager: baselineManager,
		frameEvaluator:  frameEvaluator,
		prioritizer:     prioritizer,
		emitter:         alertEmitter,
		scheduler:       sched,
	}, nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service",
		zap.String("session_id", s.sessionID),
	)

	// 恢复持久化的参考头部位置（服务重启场景）
	if err := s.baselineManager.LoadReference(ctx); err != nil {
		s.logger.Warn("Failed to restore reference position",
			zap.Error(err),
		)
	}

	return s.scheduler.Start(ctx)
}

// Stop 停止服务
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping monitor service",
		zap.String("session_id", s.sessionID),
	)

	if s.mqttClient != nil {
		s.mqttClient.Close()
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// SessionID 当前会话ID
func (s *MonitorService) SessionID() string {
	return s.sessionID
}

// 表示层边界（只读状态 + 采集/重置命令，无其他变更入口）

// ActiveMessage 当前最高优先级告警消息（空串表示无告警）
func (s *MonitorService) ActiveMessage() string {
	return s.scheduler.ActiveMessage()
}

// CalibrationStatus 当前采集/居中引导消息
func (s *MonitorService) CalibrationStatus() string {
	return s.scheduler.CalibrationStatus()
}

// RequestCapture 触发一次基线采集
func (s *MonitorService) RequestCapture() {
	s.scheduler.RequestCapture()
}

// RequestReset 清除会话基线并回到校准阶段
func (s *MonitorService) RequestReset() {
	s.scheduler.RequestReset()
}
