package tutor

import (
	"context"
	"strings"
	"sync"

	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/log"
)

// State 是请求协调器的状态。
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
)

// Status 是推送给 UI 的请求状态。
type Status struct {
	State     State `json:"state"`
	LastError error `json:"-"`
	// PendingText 是正在发送的用户输入；请求结束前不会写入日志。
	PendingText string `json:"pendingText,omitempty"`
}

// ChatBackend 是协调器依赖的后端能力。
type ChatBackend interface {
	ProfileSource
	Chat(ctx context.Context, req eduapi.ChatRequest) (*eduapi.ChatResponse, error)
}

// CoordinatorOptions 配置 RequestCoordinator。
type CoordinatorOptions struct {
	// HistoryWindow 是随请求发送的历史消息条数上限。
	HistoryWindow int
	// StripMarkers 为 true 时，展示文本中去掉测验标记。
	StripMarkers bool
	// OnTrigger 在回复中发现测验标记时调用，调用时协调器已回到 idle。
	OnTrigger func(QuizTrigger)
}

// RequestCoordinator 管理单个会话的辅导请求：同一时刻最多一个请求在途，
// 会话关闭后迟到的响应不会修改任何状态。
type RequestCoordinator struct {
	store   *ConversationStore
	guard   *QuotaGuard
	backend ChatBackend
	opts    CoordinatorOptions

	// mu 保护请求生命周期，提交结果和更新状态时都持有它，以便和 Close 互斥。
	// 因此各类回调中不能同步调用 Submit 或 Close。
	mu         sync.Mutex
	pending    bool
	closed     bool
	generation uint64
	cancel     context.CancelFunc

	statusMu sync.RWMutex
	status   Status
	watchers observers[Status]
}

// NewRequestCoordinator 创建协调器。
func NewRequestCoordinator(store *ConversationStore, guard *QuotaGuard, backend ChatBackend, opts CoordinatorOptions) *RequestCoordinator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	return &RequestCoordinator{
		store:   store,
		guard:   guard,
		backend: backend,
		opts:    opts,
		status:  Status{State: StateIdle},
	}
}

// Submit 发送一条用户消息并阻塞到请求结束，成功时返回追加的 assistant 消息。
//
// 空输入返回 ErrEmptySubmission；已有请求在途返回 ErrRequestInFlight；
// 配额已知用尽或后端返回 403 时返回 ErrQuotaExceeded；其它失败返回包装了
// ErrBackendUnavailable 的错误。失败时日志不变。
//
// 调用方取消 ctx 视为放弃该请求：不追加消息、不刷新配额、不记录失败，
// 返回 ctx.Err()。
func (c *RequestCoordinator) Submit(ctx context.Context, text string) (*Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, ErrEmptySubmission
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if c.pending {
		c.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	if c.guard.CurrentState().Exhausted() {
		c.setStatus(Status{State: StateIdle, LastError: ErrQuotaExceeded})
		c.mu.Unlock()
		return nil, ErrQuotaExceeded
	}

	subject, topic := c.store.Context()
	req := eduapi.ChatRequest{
		Message:        content,
		History:        c.store.WindowedHistory(c.opts.HistoryWindow),
		SubjectContext: subject,
		TopicContext:   topic,
		Mode:           string(c.store.Mode()),
	}
	reqCtx, cancel := context.WithCancel(ctx)
	c.pending = true
	c.generation++
	gen := c.generation
	c.cancel = cancel
	c.setStatus(Status{State: StatePending, PendingText: content})
	c.mu.Unlock()
	defer cancel()

	log.Debugw("发送辅导请求", "mode", req.Mode, "history", len(req.History), "subject", subject)

	resp, err := c.backend.Chat(reqCtx, req)
	outcome := classifyError(err)

	// 成功或配额拒绝都算一次 AI 调用，需要以用户资料为准刷新配额。
	var (
		quota  *QuotaState
		ticket uint64
	)
	if outcome != OutcomeOtherError {
		ticket = c.guard.begin()
		if profile, perr := c.backend.GetProfile(reqCtx); perr != nil {
			log.Warnf("刷新 AI 配额失败: %v", perr)
		} else {
			q := QuotaFromProfile(profile)
			quota = &q
		}
	}

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	c.pending = false
	c.cancel = nil

	if cerr := ctx.Err(); cerr != nil {
		c.setStatus(Status{State: StateIdle})
		c.mu.Unlock()
		log.Debugw("辅导请求已被调用方放弃", "error", cerr)
		return nil, cerr
	}

	if quota != nil {
		c.guard.apply(ticket, *quota)
	}

	if outcome != OutcomeOK {
		failure := outcomeError(outcome, err)
		c.setStatus(Status{State: StateIdle, LastError: failure})
		c.mu.Unlock()
		log.Warnw("辅导请求失败", "outcome", outcome.String(), "error", err)
		return nil, failure
	}

	c.store.Append(Message{Role: RoleUser, Content: content})
	display := resp.Response
	if c.opts.StripMarkers {
		// 回复只有标记时保留原文，避免出现空白气泡。
		if stripped := StripQuizMarkers(display); strings.TrimSpace(stripped) != "" {
			display = stripped
		}
	}
	reply := c.store.Append(Message{
		Role:          RoleAssistant,
		Content:       display,
		Suggestions:   resp.Suggestions,
		RelatedTopics: resp.RelatedTopics,
	})
	c.setStatus(Status{State: StateIdle})
	c.mu.Unlock()

	if trigger, ok := ScanQuizMarker(resp.Response); ok && c.opts.OnTrigger != nil {
		c.opts.OnTrigger(trigger)
	}
	return &reply, nil
}

// Close 放弃在途请求。之后的 Submit 返回 ErrSessionClosed。
func (c *RequestCoordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.pending = false
	c.setStatus(Status{State: StateIdle})
	c.mu.Unlock()
}

// Status 返回当前请求状态。
func (c *RequestCoordinator) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Subscribe 注册状态变化回调，返回取消订阅函数。
func (c *RequestCoordinator) Subscribe(fn func(Status)) func() {
	return c.watchers.add(fn)
}

func (c *RequestCoordinator) setStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
	c.watchers.notify(s)
}
