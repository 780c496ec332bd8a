// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"pai-tutor-go/pkg/events"
)

// TutorEvent 定义了 tutor_event 表的 ORM 模型，只记录使用情况，不含对话内容。
type TutorEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Type       string    `gorm:"type:varchar(32);not null;index" json:"type"`
	UserID     uint      `gorm:"not null;index" json:"userId"`
	Username   string    `gorm:"type:varchar(255)" json:"username"`
	SessionID  string    `gorm:"type:varchar(36);not null;index" json:"sessionId"`
	Detail     string    `gorm:"type:varchar(512)" json:"detail"`
	OccurredAt time.Time `gorm:"not null" json:"occurredAt"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TutorEvent) TableName() string {
	return "tutor_event"
}

// NewTutorEvent 把 Kafka 事件转换为表记录，超长的 Detail 会被截断。
func NewTutorEvent(ev events.TutorEvent) *TutorEvent {
	detail := ev.Detail
	if r := []rune(detail); len(r) > 512 {
		detail = string(r[:512])
	}
	return &TutorEvent{
		Type:       string(ev.Type),
		UserID:     ev.UserID,
		Username:   ev.Username,
		SessionID:  ev.SessionID,
		Detail:     detail,
		OccurredAt: ev.OccurredAt,
	}
}
