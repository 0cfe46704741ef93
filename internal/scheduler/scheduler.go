package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/adapter"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/alert"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/baseline"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/config"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/emitter"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/evaluator"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// State 会话状态
type State string

const (
	// StateUninitialized 感知服务尚未就绪，不执行评估
	StateUninitialized State = "uninitialized"
	// StateCalibrating 感知就绪、基线身份未采集，每tick仅做姿态评估
	StateCalibrating State = "calibrating"
	// StateMonitoring 基线身份已采集，每tick执行全量评估
	StateMonitoring State = "monitoring"
	// StateTerminated 会话已终止
	StateTerminated State = "terminated"
)

// 校准引导消息（与正常引导同通道，无单独的致命错误通道）
const (
	StatusWaitingInit      = "Waiting for camera and models to initialize"
	StatusAlignFace        = "Align your face with the center of the frame"
	StatusCentered         = "Face centered. Ready to capture."
	StatusPoorLighting     = "Lighting is too dark or too bright. Adjust and retry."
	StatusNoFace           = "No face detected. Face the camera directly."
	StatusAlreadyCaptured  = "Identity already captured"
	StatusCaptured         = "Identity captured. Monitoring started."
	StatusBaselineCleared  = "Session baseline cleared. Recalibrate to continue."
	StatusInsufficientData = "Insufficient signal this tick"
)

// Scheduler 会话调度器
// 以固定周期驱动帧评估与告警归约，是数据流的唯一驱动方
// tick严格串行：上一tick评估完成前不会开始下一tick
type Scheduler struct {
	config      *config.Config
	adapters    *adapter.Adapters
	baseline    *baseline.Manager
	evaluator   *evaluator.FrameEvaluator
	prioritizer *alert.Prioritizer
	emitter     *emitter.Emitter
	sessionID   string
	logger      *zap.Logger

	mu                sync.RWMutex
	state             State
	warningState      models.WarningState
	calibrationStatus string
	lastMessage       string

	captureRequests chan struct{}
	resetRequests   chan struct{}
}

// NewScheduler 创建会话调度器
func NewScheduler(
	cfg *config.Config,
	adapters *adapter.Adapters,
	baselineMgr *baseline.Manager,
	frameEval *evaluator.FrameEvaluator,
	prioritizer *alert.Prioritizer,
	emit *emitter.Emitter,
	sessionID string,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		config:            cfg,
		adapters:          adapters,
		baseline:          baselineMgr,
		evaluator:         frameEval,
		prioritizer:       prioritizer,
		emitter:           emit,
		sessionID:         sessionID,
		logger:            logger,
		state:             StateUninitialized,
		calibrationStatus: StatusWaitingInit,
		captureRequests:   make(chan struct{}, 1),
		resetRequests:     make(chan struct{}, 1),
	}
}

// Start 启动调度循环（阻塞直到 ctx 取消）
func (s *Scheduler) Start(ctx context.Context) error {
	interval := time.Duration(s.config.Monitor.TickIntervalMs) * time.Millisecond

	s.logger.Info("Session scheduler started",
		zap.String("session_id", s.sessionID),
		zap.Duration("tick_interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateTerminated)
			s.logger.Info("Session scheduler stopped",
				zap.String("session_id", s.sessionID),
			)
			return nil
		case <-ticker.C:
			// tick 在循环协程内同步执行，天然串行
			s.tick(ctx)
		}
	}
}

// tick 单次评估周期
// 任何单tick的失败都降级为"本tick信号不足"，循环继续
func (s *Scheduler) tick(ctx context.Context) {
	// 操作员命令在tick边界处理，避免与评估竞争基线
	select {
	case <-s.resetRequests:
		s.handleReset(ctx)
	default:
	}
	select {
	case <-s.captureRequests:
		if s.CurrentState() == StateUninitialized {
			// 感知未就绪，无法判定采集前置条件
			s.setCalibrationStatus(StatusWaitingInit)
		} else {
			s.handleCapture(ctx)
		}
	default:
	}

	switch s.CurrentState() {
	case StateUninitialized:
		s.tickUninitialized(ctx)
	case StateCalibrating:
		s.tickCalibrating(ctx)
	case StateMonitoring:
		s.tickMonitoring(ctx)
	}
}

// tickUninitialized 初始化窗口：探测感知是否就绪
func (s *Scheduler) tickUninitialized(ctx context.Context) {
	obs, err := s.adapters.ObservePoses(ctx, time.Now().UnixMilli())
	if err != nil {
		// 未就绪，下一tick重试
		s.setCalibrationStatus(StatusWaitingInit)
		return
	}

	s.logger.Info("Perception collaborators ready, entering calibration",
		zap.String("session_id", s.sessionID),
	)
	s.setState(StateCalibrating)
	s.applyCalibration(ctx, obs)
}

// tickCalibrating 校准阶段：仅姿态评估，保持居中反馈有效
func (s *Scheduler) tickCalibrating(ctx context.Context) {
	obs, err := s.adapters.ObservePoses(ctx, time.Now().UnixMilli())
	if err != nil {
		s.logTickSkip(err)
		return
	}
	s.applyCalibration(ctx, obs)
}

// applyCalibration 根据校准评估结果刷新引导消息
func (s *Scheduler) applyCalibration(ctx context.Context, obs *models.Observation) {
	state := s.evaluator.EvaluateCalibration(ctx, obs)

	s.mu.Lock()
	s.warningState = state
	if state.FaceCentered {
		s.calibrationStatus = StatusCentered
	} else {
		s.calibrationStatus = StatusAlignFace
	}
	s.mu.Unlock()
}

// tickMonitoring 监控阶段：全量评估 + 告警归约 + 发布
func (s *Scheduler) tickMonitoring(ctx context.Context) {
	obs, err := s.adapters.ObserveFull(ctx, time.Now().UnixMilli())
	if err != nil {
		s.logTickSkip(err)
		return
	}

	state := s.evaluator.Evaluate(ctx, obs)
	message, level := s.prioritizer.Prioritize(state)
	state.ActiveMessage = message

	s.mu.Lock()
	s.warningState = state
	changed := message != s.lastMessage
	s.lastMessage = message
	s.mu.Unlock()

	// 缓存最新状态供看板轮询
	if err := s.emitter.CacheWarningState(ctx, s.sessionID, state); err != nil {
		s.logger.Error("Failed to cache warning state",
			zap.Error(err),
		)
	}

	// 仅在消息变化时产生告警事件，呈现状态每tick整体覆盖
	if changed && message != "" {
		s.emitter.EmitAlertEvent(ctx, models.AlertEvent{
			EventID:     uuid.New().String(),
			SessionID:   s.sessionID,
			AlarmLevel:  level,
			Message:     message,
			TriggeredAt: time.Now(),
			Trigger:     state,
		})
	}
}

// handleCapture 处理基线采集请求
// 先等待固定的居中确认延迟，让界面先呈现取景反馈，再做采集判定
func (s *Scheduler) handleCapture(ctx context.Context) {
	settle := time.Duration(s.config.Monitor.SettleDelayMs) * time.Millisecond
	select {
	case <-ctx.Done():
		return
	case <-time.After(settle):
	}

	obs, err := s.adapters.ObserveCapture(ctx, time.Now().UnixMilli())
	if err != nil {
		s.setCalibrationStatus(StatusWaitingInit)
		return
	}

	_, err = s.baseline.TryCaptureIdentity(ctx, obs, obs.Lighting)
	switch {
	case err == nil:
		s.setCalibrationStatus(StatusCaptured)
		s.setState(StateMonitoring)
		s.logger.Info("Calibration complete, monitoring started",
			zap.String("session_id", s.sessionID),
		)
	case errors.Is(err, baseline.ErrNoCenteredFace):
		s.setCalibrationStatus(StatusAlignFace)
	case errors.Is(err, baseline.ErrPoorLighting):
		s.setCalibrationStatus(StatusPoorLighting)
	case errors.Is(err, baseline.ErrNoFaceDetected):
		s.setCalibrationStatus(StatusNoFace)
	case errors.Is(err, baseline.ErrAlreadyCaptured):
		s.setCalibrationStatus(StatusAlreadyCaptured)
	default:
		s.logger.Error("Capture attempt failed",
			zap.Error(err),
		)
		s.setCalibrationStatus(StatusInsufficientData)
	}
}

// handleReset 处理会话重置（显式操作员动作）
// 清除基线后回到校准阶段；这是 Monitoring 回到 Calibrating 的唯一途径
func (s *Scheduler) handleReset(ctx context.Context) {
	if err := s.baseline.Reset(ctx); err != nil {
		s.logger.Error("Failed to reset session baseline",
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	s.state = StateCalibrating
	s.warningState = models.WarningState{}
	s.lastMessage = ""
	s.calibrationStatus = StatusBaselineCleared
	s.mu.Unlock()

	s.logger.Info("Session reset, recalibration required",
		zap.String("session_id", s.sessionID),
	)
}

// logTickSkip 可恢复的单tick失败
func (s *Scheduler) logTickSkip(err error) {
	if errors.Is(err, adapter.ErrFrameNotReady) || errors.Is(err, adapter.ErrPerceptionUnavailable) {
		s.logger.Debug("Tick skipped, insufficient signal",
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("Tick evaluation failed",
		zap.Error(err),
	)
}

// RequestCapture 请求一次基线采集（表示层命令，在下一tick边界处理）
func (s *Scheduler) RequestCapture() {
	select {
	case s.captureRequests <- struct{}{}:
	default:
		// 已有待处理的采集请求
	}
}

// RequestReset 请求会话重置（操作员动作）
func (s *Scheduler) RequestReset() {
	select {
	case s.resetRequests <- struct{}{}:
	default:
	}
}

// ActiveMessage 当前最高优先级告警消息（空串表示无告警）
func (s *Scheduler) ActiveMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warningState.ActiveMessage
}

// CalibrationStatus 当前采集/居中引导消息
func (s *Scheduler) CalibrationStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calibrationStatus
}

// WarningState 当前tick的完整告警状态
func (s *Scheduler) WarningState() models.WarningState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warningState
}

// CurrentState 当前会话状态
func (s *Scheduler) CurrentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) setCalibrationStatus(status string) {
	s.mu.Lock()
	s.calibrationStatus = status
	s.mu.Unlock()
}
