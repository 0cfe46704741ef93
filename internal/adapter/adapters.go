package adapter

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// Adapters 信号适配器集合
// 每次观测从采集源取当前帧，并发调用各感知模型，产出归一化的 Observation
// 姿态流是必需的；人脸/物体流未就绪时降级为空检测，不使整个tick失败
type Adapters struct {
	frameSource FrameSource
	pose        PoseDetector
	face        FaceDetector
	object      ObjectDetector
	logger      *zap.Logger
}

// NewAdapters 创建信号适配器集合
func NewAdapters(
	frameSource FrameSource,
	pose PoseDetector,
	face FaceDetector,
	object ObjectDetector,
	logger *zap.Logger,
) *Adapters {
	return &Adapters{
		frameSource: frameSource,
		pose:        pose,
		face:        face,
		object:      object,
		logger:      logger,
	}
}

// ObservePoses 仅姿态观测（校准阶段每tick使用）
func (a *Adapters) ObservePoses(ctx context.Context, timestamp int64) (*models.Observation, error) {
	return a.observe(ctx, timestamp, false, false)
}

// ObserveCapture 姿态+人脸观测（基线采集使用）
func (a *Adapters) ObserveCapture(ctx context.Context, timestamp int64) (*models.Observation, error) {
	return a.observe(ctx, timestamp, true, false)
}

// ObserveFull 全量观测（监控阶段每tick使用）
func (a *Adapters) ObserveFull(ctx context.Context, timestamp int64) (*models.Observation, error) {
	return a.observe(ctx, timestamp, true, true)
}

func (a *Adapters) observe(ctx context.Context, timestamp int64, withFaces, withObjects bool) (*models.Observation, error) {
	frame, err := a.frameSource.CurrentFrame()
	if err != nil {
		return nil, err
	}

	obs := &models.Observation{
		Timestamp: timestamp,
		Lighting:  frame.Lighting,
	}

	// 不同模态的模型实例相互独立，可并发调用
	var wg sync.WaitGroup
	var poseErr, faceErr, objectErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		obs.Poses, poseErr = a.pose.DetectPoses(ctx, frame, timestamp)
	}()

	if withFaces {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.Faces, faceErr = a.face.DetectFaces(ctx, frame, timestamp)
		}()
	}

	if withObjects {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.Objects, objectErr = a.object.DetectObjects(ctx, frame, timestamp)
		}()
	}

	wg.Wait()

	// 姿态流是必需的：居中/多人判定都依赖它
	if poseErr != nil {
		return nil, poseErr
	}

	// 人脸/物体流未就绪时降级为空检测
	if faceErr != nil {
		if !errors.Is(faceErr, ErrPerceptionUnavailable) {
			a.logger.Warn("Face detection failed, treating as no detections",
				zap.Error(faceErr),
			)
		}
		obs.Faces = nil
	}
	if objectErr != nil {
		if !errors.Is(objectErr, ErrPerceptionUnavailable) {
			a.logger.Warn("Object detection failed, treating as no detections",
				zap.Error(objectErr),
			)
		}
		obs.Objects = nil
	}

	return obs, nil
}
