// Package tutor 实现 AI 辅导会话引擎：消息日志、配额镜像、测验标记解析与请求协调。
package tutor

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Role 是消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode 是教学模式，只作为标志随请求发送，提示词差异由后端负责。
type Mode string

const (
	// ModeDirect 直接给出答案。
	ModeDirect Mode = "direct"
	// ModeSocratic 以提问和提示引导学生。
	ModeSocratic Mode = "socratic"
)

// ParseMode 解析客户端传入的模式字符串。
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDirect:
		return ModeDirect, nil
	case ModeSocratic:
		return ModeSocratic, nil
	default:
		return "", fmt.Errorf("unknown tutoring mode %q", s)
	}
}

// Message 是一轮对话。追加到日志后不再修改。
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Suggestions 与 RelatedTopics 只出现在 assistant 消息中。
	Suggestions   []string `json:"suggestions,omitempty"`
	RelatedTopics []string `json:"relatedTopics,omitempty"`
}

func (m Message) clone() Message {
	m.Suggestions = slices.Clone(m.Suggestions)
	m.RelatedTopics = slices.Clone(m.RelatedTopics)
	return m
}
