package tutor

import (
	"context"

	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/log"

	"github.com/google/uuid"
)

// Backend 是一个辅导会话用到的全部后端能力，eduapi.Client 满足该接口。
type Backend interface {
	ChatBackend
	QuizGenerator
	ExplainAnswer(ctx context.Context, req eduapi.ExplainRequest) (*eduapi.Explanation, error)
}

// SessionOptions 配置一个辅导会话。
type SessionOptions struct {
	HistoryWindow     int
	StripMarkers      bool
	WelcomeMessage    string
	QuizQuestionCount int
	DefaultDifficulty string
	// InitialQuota 为 nil 时视为不限量，直到第一次刷新。
	InitialQuota *QuotaState
}

// Session 对应一个打开的辅导视图，视图卸载时调用 Close 销毁，不做持久化。
type Session struct {
	ID          string
	Store       *ConversationStore
	Guard       *QuotaGuard
	Coordinator *RequestCoordinator
	Quiz        *QuizWorkflow

	backend Backend
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSession 创建会话。sink 可以为 nil。
func NewSession(backend Backend, sink QuizSink, opts SessionOptions) *Session {
	initial := QuotaState{Limit: Unlimited}
	if opts.InitialQuota != nil {
		initial = *opts.InitialQuota
	}

	s := &Session{
		ID:      uuid.NewString(),
		Store:   NewConversationStore(),
		Guard:   NewQuotaGuard(initial),
		backend: backend,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Quiz = NewQuizWorkflow(backend, s.Guard, sink, QuizOptions{
		QuestionCount:     opts.QuizQuestionCount,
		DefaultDifficulty: opts.DefaultDifficulty,
	})
	s.Coordinator = NewRequestCoordinator(s.Store, s.Guard, backend, CoordinatorOptions{
		HistoryWindow: opts.HistoryWindow,
		StripMarkers:  opts.StripMarkers,
		OnTrigger: func(t QuizTrigger) {
			subject, _ := s.Store.Context()
			s.Quiz.Start(t, subject)
		},
	})

	if opts.WelcomeMessage != "" {
		s.Store.Append(Message{Role: RoleAssistant, Content: opts.WelcomeMessage})
	}
	return s
}

// Submit 发送一条用户消息，见 RequestCoordinator.Submit。
func (s *Session) Submit(ctx context.Context, text string) (*Message, error) {
	return s.Coordinator.Submit(ctx, text)
}

// SetMode 切换教学模式，下一次请求生效。
func (s *Session) SetMode(mode Mode) {
	s.Store.SetMode(mode)
}

// SetContext 设置学科与主题。
func (s *Session) SetContext(subject, topic string) {
	s.Store.SetContext(subject, topic)
}

// RefreshQuota 从用户资料刷新配额，通常在会话打开时调用一次。
func (s *Session) RefreshQuota(ctx context.Context) error {
	return s.Guard.Reconcile(ctx, s.backend)
}

// ExplainAnswer 请求后端讲解学生的答案，配额处理与辅导请求一致。
func (s *Session) ExplainAnswer(ctx context.Context, req eduapi.ExplainRequest) (*eduapi.Explanation, error) {
	if s.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	if s.Guard.CurrentState().Exhausted() {
		return nil, ErrQuotaExceeded
	}

	ctx, cancel := mergeCancel(ctx, s.ctx)
	defer cancel()

	resp, err := s.backend.ExplainAnswer(ctx, req)
	outcome := classifyError(err)
	if outcome != OutcomeOtherError {
		_ = s.Guard.Reconcile(ctx, s.backend)
	}
	if s.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	if outcome != OutcomeOK {
		log.Warnw("答案讲解失败", "questionId", req.QuestionID, "outcome", outcome.String(), "error", err)
		return nil, outcomeError(outcome, err)
	}
	return resp, nil
}

// Close 销毁会话：放弃在途请求并停止测验生成。
func (s *Session) Close() {
	s.cancel()
	s.Coordinator.Close()
	s.Quiz.Close()
}

// mergeCancel 返回一个在 ctx 或 other 任一结束时都会取消的 context。
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
