// Package events 定义发送到 Kafka 的辅导使用事件。事件不包含任何对话内容。
package events

import "time"

// Type 是事件类型。
type Type string

const (
	SessionOpened Type = "session_opened"
	SessionClosed Type = "session_closed"
	QuizTriggered Type = "quiz_triggered"
	QuotaExceeded Type = "quota_exceeded"
	RequestFailed Type = "request_failed"
)

// TutorEvent 是一条使用事件。
type TutorEvent struct {
	Type       Type      `json:"type"`
	UserID     uint      `json:"user_id"`
	Username   string    `json:"username"`
	SessionID  string    `json:"session_id"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New 构造一条当前时间的事件。
func New(t Type, userID uint, username, sessionID, detail string) TutorEvent {
	return TutorEvent{
		Type:       t,
		UserID:     userID,
		Username:   username,
		SessionID:  sessionID,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
}
