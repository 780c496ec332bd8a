package tutor

import (
	"sync"
	"time"

	"pai-tutor-go/pkg/eduapi"

	"github.com/google/uuid"
)

// Snapshot 是会话在某一时刻的只读副本，供 UI 渲染。
type Snapshot struct {
	Messages       []Message `json:"messages"`
	Mode           Mode      `json:"mode"`
	SubjectContext string    `json:"subjectContext,omitempty"`
	TopicContext   string    `json:"topicContext,omitempty"`
}

// ConversationStore 维护只追加的消息日志以及下一次请求使用的模式和上下文。
// 日志完整保留用于展示，发送给后端时只截取最近的窗口。
type ConversationStore struct {
	mu       sync.RWMutex
	messages []Message
	mode     Mode
	subject  string
	topic    string

	watchers observers[Snapshot]
}

// NewConversationStore 创建一个空的会话，默认 direct 模式。
func NewConversationStore() *ConversationStore {
	return &ConversationStore{mode: ModeDirect}
}

// Append 将消息追加到日志末尾，并通知订阅者。
// 未设置 ID 或时间戳时自动补全。
func (s *ConversationStore) Append(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg = msg.clone()

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.watchers.notify(snap)
	return msg.clone()
}

// WindowedHistory 返回最近 min(n, len) 条消息，只保留 role 和 content。
func (s *ConversationStore) WindowedHistory(n int) []eduapi.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.messages) == 0 {
		return []eduapi.HistoryEntry{}
	}
	start := len(s.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]eduapi.HistoryEntry, 0, len(s.messages)-start)
	for _, m := range s.messages[start:] {
		out = append(out, eduapi.HistoryEntry{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// SetMode 切换模式，只影响之后发出的请求。
func (s *ConversationStore) SetMode(mode Mode) {
	s.mu.Lock()
	if s.mode == mode {
		s.mu.Unlock()
		return
	}
	s.mode = mode
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.watchers.notify(snap)
}

// Mode 返回当前模式。
func (s *ConversationStore) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetContext 设置下一次请求的学科与主题，空字符串表示不限定。
func (s *ConversationStore) SetContext(subject, topic string) {
	s.mu.Lock()
	s.subject = subject
	s.topic = topic
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.watchers.notify(snap)
}

// Context 返回当前的学科与主题。
func (s *ConversationStore) Context() (subject, topic string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject, s.topic
}

// Len 返回日志中的消息数量。
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot 返回当前状态的副本。
func (s *ConversationStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe 注册状态变化回调，返回取消订阅函数。
// 回调同步执行，不应阻塞。
func (s *ConversationStore) Subscribe(fn func(Snapshot)) func() {
	return s.watchers.add(fn)
}

func (s *ConversationStore) snapshotLocked() Snapshot {
	msgs := make([]Message, len(s.messages))
	for i, m := range s.messages {
		msgs[i] = m.clone()
	}
	return Snapshot{
		Messages:       msgs,
		Mode:           s.mode,
		SubjectContext: s.subject,
		TopicContext:   s.topic,
	}
}
