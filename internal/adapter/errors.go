package adapter

import "errors"

// ErrPerceptionUnavailable 感知模型服务尚未就绪（可恢复，下一tick重试）
var ErrPerceptionUnavailable = errors.New("perception collaborator unavailable")

// ErrFrameNotReady 采集源暂无可解码帧（可恢复，跳过本tick）
var ErrFrameNotReady = errors.New("frame not ready")
