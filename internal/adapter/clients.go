package adapter

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// PoseDetector 姿态检测边界
type PoseDetector interface {
	DetectPoses(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.Pose, error)
}

// FaceDetector 人脸检测边界（含特征向量）
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.Face, error)
}

// ObjectDetector 物体分类边界
type ObjectDetector interface {
	DetectObjects(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.DetectedObject, error)
}

// detectRequest 推理请求体
type detectRequest struct {
	Image     string `json:"image"` // base64 编码的帧数据
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// modelClient 感知模型服务的 HTTP 客户端基类
// 同一模型实例一次只处理一帧（detect 调用串行化）
type modelClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
	mu         sync.Mutex   // 串行化 detect 调用
	readyMu    sync.RWMutex // 保护 ready 标志
	ready      bool
}

func newModelClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) modelClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second).
		SetHeader("Content-Type", "application/json")

	return modelClient{
		httpClient: client,
		logger:     logger,
	}
}

// ensureReady 检查模型服务是否完成初始化
// 未就绪时探测 /health；探测失败返回 ErrPerceptionUnavailable
func (c *modelClient) ensureReady(ctx context.Context) error {
	c.readyMu.RLock()
	ready := c.ready
	c.readyMu.RUnlock()
	if ready {
		return nil
	}

	resp, err := c.httpClient.R().SetContext(ctx).Get("/health")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return ErrPerceptionUnavailable
	}

	c.readyMu.Lock()
	c.ready = true
	c.readyMu.Unlock()
	return nil
}

// detect 执行一次推理请求，结果反序列化到 result
func (c *modelClient) detect(ctx context.Context, frame *models.Frame, timestamp int64, result interface{}) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}

	// 同一模型实例一次只处理一帧
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(&detectRequest{
			Image:     base64.StdEncoding.EncodeToString(frame.Data),
			Width:     frame.Width,
			Height:    frame.Height,
			Timestamp: timestamp,
		}).
		SetResult(result).
		Post("/detect")
	if err != nil {
		return ErrPerceptionUnavailable
	}

	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("Perception service returned non-OK status",
			zap.Int("status", resp.StatusCode()),
		)
		return ErrPerceptionUnavailable
	}

	return nil
}

// PoseClient 姿态模型服务客户端
type PoseClient struct {
	modelClient
}

// NewPoseClient 创建姿态模型客户端
func NewPoseClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *PoseClient {
	return &PoseClient{
		modelClient: newModelClient(baseURL, timeout, retryCount, logger),
	}
}

// DetectPoses 检测帧内所有人体骨架
// 零检测返回空列表，不是错误
func (c *PoseClient) DetectPoses(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.Pose, error) {
	var result struct {
		Poses []models.Pose `json:"poses"`
	}
	if err := c.detect(ctx, frame, timestamp, &result); err != nil {
		return nil, err
	}
	return result.Poses, nil
}

// FaceClient 人脸模型服务客户端
type FaceClient struct {
	modelClient
}

// NewFaceClient 创建人脸模型客户端
func NewFaceClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *FaceClient {
	return &FaceClient{
		modelClient: newModelClient(baseURL, timeout, retryCount, logger),
	}
}

// DetectFaces 检测帧内所有人脸（边界框 + 特征向量）
func (c *FaceClient) DetectFaces(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.Face, error) {
	var result struct {
		Faces []models.Face `json:"faces"`
	}
	if err := c.detect(ctx, frame, timestamp, &result); err != nil {
		return nil, err
	}
	return result.Faces, nil
}

// ObjectClient 物体模型服务客户端
type ObjectClient struct {
	modelClient
}

// NewObjectClient 创建物体模型客户端
func NewObjectClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *ObjectClient {
	return &ObjectClient{
		modelClient: newModelClient(baseURL, timeout, retryCount, logger),
	}
}

// DetectObjects 检测帧内分类物体
func (c *ObjectClient) DetectObjects(ctx context.Context, frame *models.Frame, timestamp int64) ([]models.DetectedObject, error) {
	var result struct {
		Objects []models.DetectedObject `json:"objects"`
	}
	if err := c.detect(ctx, frame, timestamp, &result); err != nil {
		return nil, err
	}
	return result.Objects, nil
}
