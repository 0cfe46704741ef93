package adapter

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// FrameSource 视频采集源边界
// CurrentFrame 返回当前已解码帧；无可解码帧时返回 ErrFrameNotReady
type FrameSource interface {
	CurrentFrame() (*models.Frame, error)
}

// frameSnapshot 采集服务的快照响应
type frameSnapshot struct {
	Image    string  `json:"image"` // base64 编码的帧数据
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Lighting float64 `json:"lighting"`
	Ready    bool    `json:"ready"`
}

// HTTPFrameSource 基于 HTTP 快照接口的采集源
type HTTPFrameSource struct {
	httpClient *resty.Client
	logger     *zap.Logger
	mu         sync.Mutex // 采集源一次只取一帧
}

// NewHTTPFrameSource 创建 HTTP 采集源
func NewHTTPFrameSource(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPFrameSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &HTTPFrameSource{
		httpClient: client,
		logger:     logger,
	}
}

// CurrentFrame 获取当前帧快照
func (s *HTTPFrameSource) CurrentFrame() (*models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot frameSnapshot
	resp, err := s.httpClient.R().
		SetResult(&snapshot).
		Get("/snapshot")
	if err != nil {
		return nil, ErrFrameNotReady
	}

	if resp.StatusCode() != http.StatusOK || !snapshot.Ready {
		return nil, ErrFrameNotReady
	}

	data, err := base64.StdEncoding.DecodeString(snapshot.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame data: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrFrameNotReady
	}

	return &models.Frame{
		Data:     data,
		Width:    snapshot.Width,
		Height:   snapshot.Height,
		Lighting: snapshot.Lighting,
	}, nil
}
