package models

import "time"

// WarningState 单次tick派生的告警状态（每tick整体替换，不跨tick累积）
type WarningState struct {
	MultiplePeople     bool     `json:"multiple_people"`
	FaceDetected       bool     `json:"face_detected"`
	FaceCentered       bool     `json:"face_centered"`
	UnauthorizedPerson bool     `json:"unauthorized_person"`
	HorizontalDrift    float64  `json:"horizontal_drift"`
	VerticalDrift      float64  `json:"vertical_drift"`
	ForbiddenObjects   []string `json:"forbidden_objects,omitempty"`
	ActiveMessage      string   `json:"active_message"`
	Timestamp          int64    `json:"timestamp"`
}

// AlertEvent 告警事件（仅在 ActiveMessage 发生变化时产生）
type AlertEvent struct {
	EventID     string       `json:"event_id"`
	SessionID   string       `json:"session_id"`
	AlarmLevel  string       `json:"alarm_level"` // CRIT, ALERT, WARNING, INFO
	Message     string       `json:"message"`
	TriggeredAt time.Time    `json:"triggered_at"`
	Trigger     WarningState `json:"trigger"`
}
