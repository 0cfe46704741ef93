package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/adapter"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/alert"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/baseline"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/config"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/emitter"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/evaluator"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/scheduler"
)

// stubFrameSource 可变的测试采集源
type stubFrameSource struct {
	mu    sync.Mutex
	frame models.Frame
	err   error
}

func (s *stubFrameSource) CurrentFrame() (*models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	frame := s.frame
	return &frame, nil
}

type stubPoseDetector struct {
	mu    sync.Mutex
	poses []models.Pose
	err   error
}

func (s *stubPoseDetector) DetectPoses(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poses, s.err
}

func (s *stubPoseDetector) set(poses []models.Pose, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poses = poses
	s.err = err
}

type stubFaceDetector struct {
	mu    sync.Mutex
	faces []models.Face
	err   error
}

func (s *stubFaceDetector) DetectFaces(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.Face, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faces, s.err
}

func (s *stubFaceDetector) set(faces []models.Face, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces = faces
	s.err = err
}

type stubObjectDetector struct {
	mu      sync.Mutex
	objects []models.DetectedObject
	err     error
}

func (s *stubObjectDetector) DetectObjects(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.DetectedObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects, s.err
}

func (s *stubObjectDetector) set(objects []models.DetectedObject, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = objects
	s.err = err
}

type schedulerFixture struct {
	scheduler *scheduler.Scheduler
	frames    *stubFrameSource
	poses     *stubPoseDetector
	faces     *stubFaceDetector
	objects   *stubObjectDetector
	redis     *redis.Client
	cfg       *config.Config
	cancel    context.CancelFunc
	done      chan struct{}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.TickIntervalMs = 10
	cfg.Monitor.CenteringTolerance = 0.08
	cfg.Monitor.SettleDelayMs = 1
	cfg.Monitor.MovementThreshold = 0.02
	cfg.Monitor.IdentityThreshold = 0.6
	cfg.Monitor.Lighting.Min = 0.25
	cfg.Monitor.Lighting.Max = 0.85
	cfg.Monitor.ForbiddenLabels = []string{"cell phone", "book"}
	cfg.Monitor.ObjectConfThreshold = 0.5
	cfg.Baseline.KeyPrefix = "proctor:session:"
	cfg.Alert.Stream = "proctor:alerts"
	cfg.Alert.StateTTL = 10
	return cfg
}

func startScheduler(t *testing.T) *schedulerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	logger := zap.NewNop()

	frames := &stubFrameSource{frame: models.Frame{Data: []byte("f"), Width: 640, Height: 480, Lighting: 0.5}}
	poses := &stubPoseDetector{err: adapter.ErrPerceptionUnavailable}
	faces := &stubFaceDetector{}
	objects := &stubObjectDetector{}

	adapters := adapter.NewAdapters(frames, poses, faces, objects, logger)
	baselineMgr := baseline.NewManager(cfg, baseline.NewRedisKVStore(redisClient), "session-test", logger)
	frameEval := evaluator.NewFrameEvaluator(cfg, baselineMgr, logger)
	prioritizer := alert.NewPrioritizer(cfg.Monitor.MovementThreshold)
	emit := emitter.NewEmitter(cfg, redisClient, nil, logger)

	sched := scheduler.NewScheduler(cfg, adapters, baselineMgr, frameEval, prioritizer, emit, "session-test", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &schedulerFixture{
		scheduler: sched,
		frames:    frames,
		poses:     poses,
		faces:     faces,
		objects:   objects,
		redis:     redisClient,
		cfg:       cfg,
		cancel:    cancel,
		done:      done,
	}
}

func centeredPoses() []models.Pose {
	return []models.Pose{{Nose: models.Point{X: 0.5, Y: 0.5}, Confidence: 0.9}}
}

func authorizedFaces() []models.Face {
	return []models.Face{{
		Box:        models.Box{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2},
		Descriptor: models.Descriptor{0, 0, 0},
		Confidence: 0.95,
	}}
}

func TestScheduler_InitializationWindow(t *testing.T) {
	f := startScheduler(t)

	// 感知未就绪时停留在 Uninitialized
	assert.Eventually(t, func() bool {
		return f.scheduler.CalibrationStatus() == scheduler.StatusWaitingInit
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, scheduler.StateUninitialized, f.scheduler.CurrentState())

	// 姿态模型就绪后进入校准阶段
	f.poses.set(centeredPoses(), nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_CalibrationFeedback(t *testing.T) {
	f := startScheduler(t)

	f.poses.set(centeredPoses(), nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CalibrationStatus() == scheduler.StatusCentered
	}, time.Second, 5*time.Millisecond)

	// 偏离中心后引导对齐
	f.poses.set([]models.Pose{{Nose: models.Point{X: 0.2, Y: 0.5}}}, nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CalibrationStatus() == scheduler.StatusAlignFace
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_CaptureTransitionsToMonitoring(t *testing.T) {
	f := startScheduler(t)

	f.poses.set(centeredPoses(), nil)
	f.faces.set(authorizedFaces(), nil)

	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)

	f.scheduler.RequestCapture()

	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateMonitoring
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, scheduler.StatusCaptured, f.scheduler.CalibrationStatus())
}

func TestScheduler_CaptureFailureKeepsCalibrating(t *testing.T) {
	f := startScheduler(t)

	// 不居中：采集被拒绝，状态不变
	f.poses.set([]models.Pose{{Nose: models.Point{X: 0.2, Y: 0.5}}}, nil)
	f.faces.set(authorizedFaces(), nil)

	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)

	f.scheduler.RequestCapture()

	assert.Eventually(t, func() bool {
		return f.scheduler.CalibrationStatus() == scheduler.StatusAlignFace
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, scheduler.StateCalibrating, f.scheduler.CurrentState())
}

func TestScheduler_MonitoringRaisesMultiPersonAlert(t *testing.T) {
	f := startScheduler(t)

	f.poses.set(centeredPoses(), nil)
	f.faces.set(authorizedFaces(), nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)

	f.scheduler.RequestCapture()
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateMonitoring
	}, time.Second, 5*time.Millisecond)

	// 两人入画 + 冒名人脸 + 违禁物品：多人告警优先
	f.poses.set([]models.Pose{
		{Nose: models.Point{X: 0.5, Y: 0.5}},
		{Nose: models.Point{X: 0.2, Y: 0.4}},
	}, nil)
	f.faces.set([]models.Face{{
		Box:        models.Box{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2},
		Descriptor: models.Descriptor{0.9, 0, 0},
	}}, nil)
	f.objects.set([]models.DetectedObject{{Label: "cell phone", Confidence: 0.9}}, nil)

	assert.Eventually(t, func() bool {
		return f.scheduler.ActiveMessage() == alert.MsgMultiplePeople
	}, time.Second, 5*time.Millisecond)

	// 告警事件已发布到 Redis Stream
	streamLen, err := f.redis.XLen(context.Background(), f.cfg.Alert.Stream).Result()
	require.NoError(t, err)
	assert.Greater(t, streamLen, int64(0))
}

func TestScheduler_NoFaceWarningInMonitoring(t *testing.T) {
	f := startScheduler(t)

	f.poses.set(centeredPoses(), nil)
	f.faces.set(authorizedFaces(), nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)

	f.scheduler.RequestCapture()
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateMonitoring
	}, time.Second, 5*time.Millisecond)

	// 人离开画面：零姿态零人脸
	f.poses.set(nil, nil)
	f.faces.set(nil, nil)

	assert.Eventually(t, func() bool {
		return f.scheduler.ActiveMessage() == alert.MsgNoFace
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_ResetReturnsToCalibrating(t *testing.T) {
	f := startScheduler(t)

	f.poses.set(centeredPoses(), nil)
	f.faces.set(authorizedFaces(), nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)

	f.scheduler.RequestCapture()
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateMonitoring
	}, time.Second, 5*time.Millisecond)

	f.scheduler.RequestReset()

	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", f.scheduler.ActiveMessage())

	// 重置后可再次采集
	f.scheduler.RequestCapture()
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateMonitoring
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopTerminates(t *testing.T) {
	f := startScheduler(t)

	f.poses.set(centeredPoses(), nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)

	f.cancel()
	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, scheduler.StateTerminated, f.scheduler.CurrentState())
}

func TestScheduler_TickFailureDoesNotStopLoop(t *testing.T) {
	f := startScheduler(t)

	f.poses.set(centeredPoses(), nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CurrentState() == scheduler.StateCalibrating
	}, time.Second, 5*time.Millisecond)

	// 帧源失效若干tick后恢复，循环持续
	f.frames.mu.Lock()
	f.frames.err = adapter.ErrFrameNotReady
	f.frames.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	f.frames.mu.Lock()
	f.frames.err = nil
	f.frames.mu.Unlock()

	f.poses.set([]models.Pose{{Nose: models.Point{X: 0.2, Y: 0.5}}}, nil)
	assert.Eventually(t, func() bool {
		return f.scheduler.CalibrationStatus() == scheduler.StatusAlignFace
	}, time.Second, 5*time.Millisecond)
}
