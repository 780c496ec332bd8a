package tutor

import (
	"context"
	"strings"
	"sync"

	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/log"
)

// Quiz 是由测验标记触发生成的测验。
type Quiz struct {
	Trigger    QuizTrigger           `json:"trigger"`
	Subject    string                `json:"subject"`
	Topic      string                `json:"topic"`
	Difficulty string                `json:"difficulty"`
	Questions  []eduapi.QuizQuestion `json:"questions"`
}

// QuizGenerator 是测验生成依赖的后端能力。
type QuizGenerator interface {
	ProfileSource
	GenerateQuiz(ctx context.Context, req eduapi.QuizRequest) (*eduapi.QuizResponse, error)
}

// QuizSink 接收测验流程的各个阶段。回调在流程的 goroutine 中执行。
type QuizSink interface {
	QuizStarted(trigger QuizTrigger)
	QuizReady(quiz Quiz)
	QuizFailed(trigger QuizTrigger, err error)
}

// QuizOptions 配置 QuizWorkflow。
type QuizOptions struct {
	QuestionCount     int
	DefaultDifficulty string
}

// QuizWorkflow 把 QuizTrigger 交给后端生成测验。同一会话同时最多生成一份测验。
type QuizWorkflow struct {
	gen   QuizGenerator
	guard *QuotaGuard
	sink  QuizSink
	opts  QuizOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	closed  bool
}

// NewQuizWorkflow 创建测验流程。
func NewQuizWorkflow(gen QuizGenerator, guard *QuotaGuard, sink QuizSink, opts QuizOptions) *QuizWorkflow {
	if opts.QuestionCount <= 0 {
		opts.QuestionCount = 5
	}
	opts.DefaultDifficulty = NormalizeDifficulty(opts.DefaultDifficulty, "medium")
	ctx, cancel := context.WithCancel(context.Background())
	return &QuizWorkflow{
		gen:    gen,
		guard:  guard,
		sink:   sink,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// NormalizeDifficulty 把标记中的第一个字段映射为 easy/medium/hard，无法识别时返回 fallback。
func NormalizeDifficulty(hint, fallback string) string {
	switch h := strings.ToLower(strings.TrimSpace(hint)); h {
	case "easy", "medium", "hard":
		return h
	}
	return fallback
}

// Start 异步生成测验。已有测验在生成或流程已关闭时返回 false。
// subject 为空时用触发主题代替。
func (w *QuizWorkflow) Start(trigger QuizTrigger, subject string) bool {
	w.mu.Lock()
	if w.closed || w.running {
		w.mu.Unlock()
		log.Infow("忽略测验触发", "topic", trigger.Topic, "closed", w.closed)
		return false
	}
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}()
		w.run(trigger, subject)
	}()
	return true
}

func (w *QuizWorkflow) run(trigger QuizTrigger, subject string) {
	if w.sink != nil {
		w.sink.QuizStarted(trigger)
	}

	if subject == "" {
		subject = trigger.Topic
	}
	req := eduapi.QuizRequest{
		Subject:       subject,
		Topic:         trigger.Topic,
		Difficulty:    NormalizeDifficulty(trigger.DifficultyOrMode, w.opts.DefaultDifficulty),
		QuestionCount: w.opts.QuestionCount,
	}

	if w.guard.CurrentState().Exhausted() {
		w.fail(trigger, ErrQuotaExceeded)
		return
	}

	resp, err := w.gen.GenerateQuiz(w.ctx, req)
	outcome := classifyError(err)
	if outcome != OutcomeOtherError {
		_ = w.guard.Reconcile(w.ctx, w.gen)
	}
	if w.ctx.Err() != nil {
		return
	}
	if outcome != OutcomeOK {
		w.fail(trigger, outcomeError(outcome, err))
		return
	}

	log.Infow("测验已生成", "topic", req.Topic, "difficulty", req.Difficulty, "questions", len(resp.Questions))
	if w.sink != nil {
		w.sink.QuizReady(Quiz{
			Trigger:    trigger,
			Subject:    req.Subject,
			Topic:      req.Topic,
			Difficulty: req.Difficulty,
			Questions:  resp.Questions,
		})
	}
}

func (w *QuizWorkflow) fail(trigger QuizTrigger, err error) {
	log.Warnw("测验生成失败", "topic", trigger.Topic, "error", err)
	if w.sink != nil {
		w.sink.QuizFailed(trigger, err)
	}
}

// Close 取消正在生成的测验并等待其退出。
func (w *QuizWorkflow) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}
