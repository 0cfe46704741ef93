package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/config"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// 基线采集前置条件失败
var (
	// ErrNoCenteredFace 头部未居中
	ErrNoCenteredFace = errors.New("no centered face")
	// ErrPoorLighting 光照不在可接受范围内
	ErrPoorLighting = errors.New("poor lighting")
	// ErrNoFaceDetected 取景正确但未检测到人脸
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrAlreadyCaptured 基线身份已采集（采集幂等）
	ErrAlreadyCaptured = errors.New("identity already captured")
)

// 帧中心
var frameCenter = models.Point{X: 0.5, Y: 0.5}

// Manager 基线管理器
// 管理会话的两个校准锚点：采集到的身份特征向量和参考头部位置
// 身份每会话最多采集一次；参考位置随最近一次居中位置前移（自强化基线）
type Manager struct {
	config    *config.Config
	kv        KVStore
	sessionID string
	logger    *zap.Logger

	mu        sync.RWMutex
	identity  models.Descriptor // 采集成功后不可变
	captured  bool
	reference *models.Point // 最近一次居中的头部位置
}

// NewManager 创建基线管理器
func NewManager(cfg *config.Config, kv KVStore, sessionID string, logger *zap.Logger) *Manager {
	return &Manager{
		config:    cfg,
		kv:        kv,
		sessionID: sessionID,
		logger:    logger,
	}
}

// referenceKey 参考头部位置的存储键
func (m *Manager) referenceKey() string {
	return fmt.Sprintf("%s%s:reference", m.config.Baseline.KeyPrefix, m.sessionID)
}

// landmarksKey 采集时人脸关键点快照的存储键
func (m *Manager) landmarksKey() string {
	return fmt.Sprintf("%s%s:landmarks", m.config.Baseline.KeyPrefix, m.sessionID)
}

func (m *Manager) ttl() time.Duration {
	return time.Duration(m.config.Baseline.TTLSec) * time.Second
}

// LoadReference 从 KV 存储恢复参考头部位置（服务重启后恢复）
func (m *Manager) LoadReference(ctx context.Context) error {
	val, err := m.kv.Get(ctx, m.referenceKey())
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load reference position: %w", err)
	}

	var pt models.Point
	if err := json.Unmarshal([]byte(val), &pt); err != nil {
		return fmt.Errorf("failed to unmarshal reference position: %w", err)
	}

	m.mu.Lock()
	m.reference = &pt
	m.mu.Unlock()

	m.logger.Info("Reference head position restored",
		zap.Float64("x", pt.X),
		zap.Float64("y", pt.Y),
	)
	return nil
}

// TryCaptureIdentity 尝试采集基线身份
// 前置条件：头部居中 + 光照在可接受范围内；成功后幂等
// 成功时保存最居中人脸的特征向量，并持久化该人脸的关键点快照
func (m *Manager) TryCaptureIdentity(ctx context.Context, obs *models.Observation, lighting float64) (models.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.captured {
		return nil, ErrAlreadyCaptured
	}

	// 1. 居中检查：任一姿态的鼻部关键点落在容差内
	tolerance := m.config.Monitor.CenteringTolerance
	centered := false
	for _, pose := range obs.Poses {
		if pose.Nose.CenteredWithin(tolerance) {
			centered = true
			break
		}
	}
	if !centered {
		return nil, ErrNoCenteredFace
	}

	// 2. 光照带检查
	if lighting < m.config.Monitor.Lighting.Min || lighting > m.config.Monitor.Lighting.Max {
		return nil, ErrPoorLighting
	}

	// 3. 选择最居中的人脸（唯一人脸时即它本身）
	face := selectBestFace(obs.Faces)
	if face == nil {
		return nil, ErrNoFaceDetected
	}

	// 4. 保存身份并持久化关键点快照
	m.identity = append(models.Descriptor(nil), face.Descriptor...)
	m.captured = true

	if len(face.Landmarks) > 0 {
		jsonData, err := json.Marshal(face.Landmarks)
		if err == nil {
			if err := m.kv.Set(ctx, m.landmarksKey(), string(jsonData), m.ttl()); err != nil {
				m.logger.Error("Failed to persist landmark snapshot",
					zap.Error(err),
				)
			}
		}
	}

	m.logger.Info("Baseline identity captured",
		zap.String("session_id", m.sessionID),
		zap.Int("descriptor_len", len(m.identity)),
	)

	return m.identity, nil
}

// selectBestFace 选择边界框中心离帧中心曼哈顿距离最近、且带可用特征向量的人脸
func selectBestFace(faces []models.Face) *models.Face {
	var best *models.Face
	bestDist := 0.0
	for i := range faces {
		if len(faces[i].Descriptor) == 0 {
			continue
		}
		dist := faces[i].Box.Center().ManhattanDistanceTo(frameCenter)
		if best == nil || dist < bestDist {
			best = &faces[i]
			bestDist = dist
		}
	}
	return best
}

// UpdateReferenceHeadPosition 无条件覆盖参考头部位置并持久化
// 当前头部被判定居中时调用；尚无参考时任何观测位置都可成为参考
func (m *Manager) UpdateReferenceHeadPosition(ctx context.Context, pt models.Point) {
	m.mu.Lock()
	m.reference = &pt
	m.mu.Unlock()

	jsonData, err := json.Marshal(pt)
	if err != nil {
		return
	}
	if err := m.kv.Set(ctx, m.referenceKey(), string(jsonData), m.ttl()); err != nil {
		m.logger.Error("Failed to persist reference position",
			zap.Error(err),
		)
	}
}

// Reference 当前参考头部位置
func (m *Manager) Reference() (models.Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reference == nil {
		return models.Point{}, false
	}
	return *m.reference, true
}

// Identity 已采集的基线身份
func (m *Manager) Identity() (models.Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.captured {
		return nil, false
	}
	return m.identity, true
}

// Captured 基线身份是否已采集
func (m *Manager) Captured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.captured
}

// Reset 清除会话基线（显式操作员动作，清除后可重新采集）
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.identity = nil
	m.captured = false
	m.reference = nil
	m.mu.Unlock()

	if err := m.kv.Del(ctx, m.referenceKey(), m.landmarksKey()); err != nil {
		return fmt.Errorf("failed to clear persisted baseline: %w", err)
	}

	m.logger.Info("Session baseline cleared",
		zap.String("session_id", m.sessionID),
	)
	return nil
}
