package evaluator

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/baseline"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/config"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// 帧中心
var frameCenter = models.Point{X: 0.5, Y: 0.5}

// FrameEvaluator 帧评估器
// 每tick将最新观测转换为相互独立的告警信号（居中、多人、漂移、身份、违禁物品）
type FrameEvaluator struct {
	config   *config.Config
	baseline *baseline.Manager
	logger   *zap.Logger

	// 违禁类别查找表（小写）
	forbiddenLabels map[string]struct{}
}

// NewFrameEvaluator 创建帧评估器
func NewFrameEvaluator(cfg *config.Config, baselineMgr *baseline.Manager, logger *zap.Logger) *FrameEvaluator {
	forbidden := make(map[string]struct{}, len(cfg.Monitor.ForbiddenLabels))
	for _, label := range cfg.Monitor.ForbiddenLabels {
		forbidden[strings.ToLower(label)] = struct{}{}
	}

	return &FrameEvaluator{
		config:          cfg,
		baseline:        baselineMgr,
		logger:          logger,
		forbiddenLabels: forbidden,
	}
}

// EvaluateCalibration 校准阶段评估（仅姿态信号，保持居中反馈有效）
func (e *FrameEvaluator) EvaluateCalibration(ctx context.Context, obs *models.Observation) models.WarningState {
	state := models.WarningState{Timestamp: obs.Timestamp}
	e.evaluatePoses(ctx, obs, &state)
	return state
}

// Evaluate 全量评估（监控阶段每tick执行）
func (e *FrameEvaluator) Evaluate(ctx context.Context, obs *models.Observation) models.WarningState {
	state := models.WarningState{Timestamp: obs.Timestamp}

	// 1-3. 姿态信号：居中、多人、漂移
	e.evaluatePoses(ctx, obs, &state)

	// 4. 身份验证
	e.evaluateIdentity(obs, &state)

	// 5. 违禁物品
	state.ForbiddenObjects = e.filterForbiddenObjects(obs.Objects)

	return state
}

// evaluatePoses 姿态信号评估
// 任一姿态居中即刷新参考位置；漂移以刷新后的当前参考为准
func (e *FrameEvaluator) evaluatePoses(ctx context.Context, obs *models.Observation, state *models.WarningState) {
	tolerance := e.config.Monitor.CenteringTolerance

	// 1. 居中判定 + 参考位置自强化
	for _, pose := range obs.Poses {
		if pose.Nose.CenteredWithin(tolerance) {
			state.FaceCentered = true
			e.baseline.UpdateReferenceHeadPosition(ctx, pose.Nose)
			break
		}
	}

	// 2. 多人检测
	state.MultiplePeople = len(obs.Poses) > 1

	// 3. 移动漂移（相对最近一次居中位置，而非最初采集位置）
	if len(obs.Poses) > 0 {
		nose := obs.Poses[0].Nose
		reference, ok := e.baseline.Reference()
		if !ok {
			// 尚无参考时，任何观测位置都可成为参考
			e.baseline.UpdateReferenceHeadPosition(ctx, nose)
			reference = nose
		}
		state.HorizontalDrift = math.Abs(nose.X - reference.X)
		state.VerticalDrift = math.Abs(nose.Y - reference.Y)
	}
}

// evaluateIdentity 身份验证
// 多人脸时选择边界框中心离帧中心曼哈顿距离最近的人脸
// 无可用特征向量时报告"无人脸"，不默认判为他人
func (e *FrameEvaluator) evaluateIdentity(obs *models.Observation, state *models.WarningState) {
	identity, ok := e.baseline.Identity()
	if !ok {
		// 基线身份未采集，仅报告是否有人脸
		state.FaceDetected = len(obs.Faces) > 0
		return
	}

	var best *models.Face
	bestDist := 0.0
	for i := range obs.Faces {
		desc := obs.Faces[i].Descriptor
		if len(desc) == 0 {
			continue
		}
		// 特征向量长度不符，本tick丢弃该人脸
		if len(desc) != len(identity) {
			e.logger.Warn("Dropping face with invalid descriptor",
				zap.Int("descriptor_len", len(desc)),
				zap.Int("expected_len", len(identity)),
			)
			continue
		}
		dist := obs.Faces[i].Box.Center().ManhattanDistanceTo(frameCenter)
		if best == nil || dist < bestDist {
			best = &obs.Faces[i]
			bestDist = dist
		}
	}

	if best == nil {
		state.FaceDetected = false
		return
	}

	state.FaceDetected = true
	distance := floats.Distance(best.Descriptor, identity, 2)
	state.UnauthorizedPerson = distance > e.config.Monitor.IdentityThreshold
}

// filterForbiddenObjects 过滤违禁物品（类别大小写不敏感，置信度需超阈值）
func (e *FrameEvaluator) filterForbiddenObjects(objects []models.DetectedObject) []string {
	var labels []string
	seen := make(map[string]struct{})
	for _, obj := range objects {
		key := strings.ToLower(obj.Label)
		if _, forbidden := e.forbiddenLabels[key]; !forbidden {
			continue
		}
		if obj.Confidence <= e.config.Monitor.ObjectConfThreshold {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		labels = append(labels, key)
	}
	return labels
}
