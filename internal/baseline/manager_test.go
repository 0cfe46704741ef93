package baseline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/baseline"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/config"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.CenteringTolerance = 0.08
	cfg.Monitor.Lighting.Min = 0.25
	cfg.Monitor.Lighting.Max = 0.85
	cfg.Baseline.KeyPrefix = "proctor:session:"
	return cfg
}

func setupManager(t *testing.T) (*baseline.Manager, *fakeKVStore) {
	t.Helper()
	kv := newFakeKVStore()
	mgr := baseline.NewManager(testConfig(), kv, "session-1", zap.NewNop())
	return mgr, kv
}

// centeredObservation 一个居中姿态 + 一张带特征向量的人脸
func centeredObservation() *models.Observation {
	return &models.Observation{
		Poses: []models.Pose{
			{Nose: models.Point{X: 0.5, Y: 0.5}, Confidence: 0.9},
		},
		Faces: []models.Face{
			{
				Box:        models.Box{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2},
				Descriptor: models.Descriptor{0.1, 0.2, 0.3},
				Landmarks:  []models.Point{{X: 0.45, Y: 0.45}, {X: 0.55, Y: 0.45}},
				Confidence: 0.95,
			},
		},
	}
}

func TestTryCaptureIdentity_Success(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	desc, err := mgr.TryCaptureIdentity(ctx, centeredObservation(), 0.5)

	require.NoError(t, err)
	assert.Equal(t, models.Descriptor{0.1, 0.2, 0.3}, desc)
	assert.True(t, mgr.Captured())

	identity, ok := mgr.Identity()
	assert.True(t, ok)
	assert.Equal(t, models.Descriptor{0.1, 0.2, 0.3}, identity)
}

func TestTryCaptureIdentity_NotCentered(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	obs := centeredObservation()
	obs.Poses[0].Nose = models.Point{X: 0.2, Y: 0.5}

	_, err := mgr.TryCaptureIdentity(ctx, obs, 0.5)

	assert.ErrorIs(t, err, baseline.ErrNoCenteredFace)
	// 失败不得改变基线身份
	assert.False(t, mgr.Captured())
	_, ok := mgr.Identity()
	assert.False(t, ok)
}

func TestTryCaptureIdentity_LightingBand(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	// 低于低光下限
	_, err := mgr.TryCaptureIdentity(ctx, centeredObservation(), 0.1)
	assert.ErrorIs(t, err, baseline.ErrPoorLighting)

	// 高于高光上限
	_, err = mgr.TryCaptureIdentity(ctx, centeredObservation(), 0.95)
	assert.ErrorIs(t, err, baseline.ErrPoorLighting)

	assert.False(t, mgr.Captured())
}

func TestTryCaptureIdentity_NoFace(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	obs := centeredObservation()
	obs.Faces = nil

	_, err := mgr.TryCaptureIdentity(ctx, obs, 0.5)
	assert.ErrorIs(t, err, baseline.ErrNoFaceDetected)

	// 无可用特征向量的人脸同样视为无人脸
	obs = centeredObservation()
	obs.Faces[0].Descriptor = nil

	_, err = mgr.TryCaptureIdentity(ctx, obs, 0.5)
	assert.ErrorIs(t, err, baseline.ErrNoFaceDetected)
}

func TestTryCaptureIdentity_Idempotent(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.TryCaptureIdentity(ctx, centeredObservation(), 0.5)
	require.NoError(t, err)

	// 第二次采集（不同的特征向量）必须被拒绝且不改变已存身份
	second := centeredObservation()
	second.Faces[0].Descriptor = models.Descriptor{0.9, 0.9, 0.9}

	_, err = mgr.TryCaptureIdentity(ctx, second, 0.5)
	assert.ErrorIs(t, err, baseline.ErrAlreadyCaptured)

	identity, ok := mgr.Identity()
	require.True(t, ok)
	assert.Equal(t, models.Descriptor{0.1, 0.2, 0.3}, identity)
}

func TestTryCaptureIdentity_SelectsMostCenteredFace(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	obs := centeredObservation()
	obs.Faces = []models.Face{
		{
			// 中心 (0.25, 0.45)，曼哈顿距离 0.3
			Box:        models.Box{X: 0.15, Y: 0.35, Width: 0.2, Height: 0.2},
			Descriptor: models.Descriptor{9, 9, 9},
		},
		{
			// 中心 (0.5, 0.6)，曼哈顿距离 0.1
			Box:        models.Box{X: 0.4, Y: 0.5, Width: 0.2, Height: 0.2},
			Descriptor: models.Descriptor{1, 2, 3},
		},
	}

	desc, err := mgr.TryCaptureIdentity(ctx, obs, 0.5)
	require.NoError(t, err)
	assert.Equal(t, models.Descriptor{1, 2, 3}, desc)
}

func TestUpdateReferenceHeadPosition_Overwrites(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	_, ok := mgr.Reference()
	assert.False(t, ok)

	mgr.UpdateReferenceHeadPosition(ctx, models.Point{X: 0.5, Y: 0.52})
	ref, ok := mgr.Reference()
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 0.5, Y: 0.52}, ref)

	// 无条件覆盖
	mgr.UpdateReferenceHeadPosition(ctx, models.Point{X: 0.48, Y: 0.5})
	ref, _ = mgr.Reference()
	assert.Equal(t, models.Point{X: 0.48, Y: 0.5}, ref)
}

func TestLoadReference_RoundTrip(t *testing.T) {
	cfg := testConfig()
	kv := newFakeKVStore()
	ctx := context.Background()

	first := baseline.NewManager(cfg, kv, "session-1", zap.NewNop())
	first.UpdateReferenceHeadPosition(ctx, models.Point{X: 0.51, Y: 0.47})

	// 新的管理器实例（模拟服务重启）从 KV 恢复出相同坐标
	second := baseline.NewManager(cfg, kv, "session-1", zap.NewNop())
	require.NoError(t, second.LoadReference(ctx))

	ref, ok := second.Reference()
	require.True(t, ok)
	assert.Equal(t, models.Point{X: 0.51, Y: 0.47}, ref)
}

func TestReset_ClearsBaselineAndAllowsRecapture(t *testing.T) {
	mgr, kv := setupManager(t)
	ctx := context.Background()

	_, err := mgr.TryCaptureIdentity(ctx, centeredObservation(), 0.5)
	require.NoError(t, err)
	mgr.UpdateReferenceHeadPosition(ctx, models.Point{X: 0.5, Y: 0.5})

	require.NoError(t, mgr.Reset(ctx))

	assert.False(t, mgr.Captured())
	_, ok := mgr.Reference()
	assert.False(t, ok)

	_, err = kv.Get(ctx, "proctor:session:session-1:reference")
	assert.ErrorIs(t, err, baseline.ErrKeyNotFound)

	// 重置后可重新采集
	_, err = mgr.TryCaptureIdentity(ctx, centeredObservation(), 0.5)
	assert.NoError(t, err)
}
