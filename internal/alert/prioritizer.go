package alert

import (
	"fmt"
	"strings"

	"github.com/sshahnawaz567/AI-real-time-proctoring/internal/models"
)

// 告警消息（同一tick只呈现优先级最高的一条）
const (
	MsgMultiplePeople     = "Multiple people detected in frame"
	MsgUnauthorizedPerson = "Unauthorized person detected"
	MsgNoFace             = "No face detected"
	MsgExcessMovement     = "Excessive head movement detected"
)

// 告警级别
const (
	LevelCrit    = "CRIT"
	LevelAlert   = "ALERT"
	LevelWarning = "WARNING"
	LevelNone    = ""
)

// Prioritizer 告警优先级归约器
// 对当前tick的信号集施加固定全序，输出单条最高优先级消息
// 排序即严重度排序：身份/在场类违规 > 物品违规 > 轻微移动，顺序不可调整
type Prioritizer struct {
	movementThreshold float64
}

// NewPrioritizer 创建告警归约器
func NewPrioritizer(movementThreshold float64) *Prioritizer {
	return &Prioritizer{movementThreshold: movementThreshold}
}

// Prioritize 从告警状态归约出单条消息（仅依赖当前tick字段，无历史记忆）
// 返回消息和级别；无告警时均为空
func (p *Prioritizer) Prioritize(state models.WarningState) (string, string) {
	switch {
	case state.MultiplePeople:
		return MsgMultiplePeople, LevelCrit
	case state.UnauthorizedPerson:
		return MsgUnauthorizedPerson, LevelAlert
	case !state.FaceDetected:
		return MsgNoFace, LevelAlert
	case len(state.ForbiddenObjects) > 0:
		return forbiddenMessage(state.ForbiddenObjects), LevelWarning
	case state.HorizontalDrift > p.movementThreshold || state.VerticalDrift > p.movementThreshold:
		return MsgExcessMovement, LevelWarning
	default:
		return "", LevelNone
	}
}

// forbiddenMessage 违禁物品消息（枚举类别）
func forbiddenMessage(labels []string) string {
	return fmt.Sprintf("Forbidden item detected: %s", strings.Join(labels, ", "))
}
