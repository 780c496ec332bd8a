package tutor

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/log"
)

// Unlimited 表示配额不限量。
const Unlimited = -1

// QuotaState 是后端配额的本地镜像。
type QuotaState struct {
	Limit int `json:"limit"`
	Used  int `json:"used"`
}

// IsUnlimited 报告配额是否不限量。
func (q QuotaState) IsUnlimited() bool {
	return q.Limit < 0
}

// Remaining 返回 max(0, Limit-Used)；不限量时返回 Unlimited。
func (q QuotaState) Remaining() int {
	if q.IsUnlimited() {
		return Unlimited
	}
	if r := q.Limit - q.Used; r > 0 {
		return r
	}
	return 0
}

// Exhausted 报告配额是否已用尽。不限量的用户永远不会用尽。
func (q QuotaState) Exhausted() bool {
	return !q.IsUnlimited() && q.Remaining() == 0
}

// QuotaFromProfile 从用户资料构造配额状态。
func QuotaFromProfile(p *eduapi.Profile) QuotaState {
	q := QuotaState{Limit: p.AIQuotaLimit, Used: p.AIQuotaUsed}
	if q.Limit < 0 {
		q.Limit = Unlimited
	}
	if q.Used < 0 {
		q.Used = 0
	}
	return q
}

// QuotaView 是推送给 UI 的配额信息。
type QuotaView struct {
	Remaining int  `json:"remaining"`
	Exhausted bool `json:"exhausted"`
	Unlimited bool `json:"unlimited"`
}

// View 把配额状态转换为 UI 视图。
func (q QuotaState) View() QuotaView {
	return QuotaView{Remaining: q.Remaining(), Exhausted: q.Exhausted(), Unlimited: q.IsUnlimited()}
}

// Outcome 是一次 AI 调用结果的分类。
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeQuotaExceeded
	OutcomeOtherError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeQuotaExceeded:
		return "quota_exceeded"
	default:
		return "other_error"
	}
}

// ProfileSource 提供权威的用户资料。
type ProfileSource interface {
	GetProfile(ctx context.Context) (*eduapi.Profile, error)
}

// QuotaGuard 镜像后端配额。它不负责扣减，只在每次 AI 调用后从用户资料整体替换。
//
// 对话、测验和讲解可能同时刷新配额。每次刷新在取数前领取一个递增序号，
// 只有序号比已生效的更新时才会替换，较早发起、较晚返回的快照会被丢弃。
type QuotaGuard struct {
	mu      sync.RWMutex
	state   QuotaState
	issued  uint64
	applied uint64

	watchers observers[QuotaView]
}

// NewQuotaGuard 以初始状态创建 QuotaGuard。
// 尚未获取用户资料时应传入 QuotaState{Limit: Unlimited}，由后端做最终裁决。
func NewQuotaGuard(initial QuotaState) *QuotaGuard {
	return &QuotaGuard{state: initial}
}

// CurrentState 返回当前配额快照。
func (g *QuotaGuard) CurrentState() QuotaState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Refresh 整体替换配额快照。
func (g *QuotaGuard) Refresh(state QuotaState) {
	g.apply(g.begin(), state)
}

// Reconcile 重新获取用户资料并刷新配额。失败时保留旧快照。
func (g *QuotaGuard) Reconcile(ctx context.Context, src ProfileSource) error {
	ticket := g.begin()
	profile, err := src.GetProfile(ctx)
	if err != nil {
		log.Warnf("刷新 AI 配额失败: %v", err)
		return fmt.Errorf("failed to reconcile quota: %w", err)
	}
	g.apply(ticket, QuotaFromProfile(profile))
	return nil
}

// begin 领取一次刷新的序号，须在请求用户资料之前调用。
func (g *QuotaGuard) begin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.issued
}

// apply 在 ticket 比已生效的序号新时替换快照，返回是否生效。
func (g *QuotaGuard) apply(ticket uint64, state QuotaState) bool {
	g.mu.Lock()
	if applied := g.applied; ticket <= applied {
		g.mu.Unlock()
		log.Debugw("丢弃过期的配额快照", "ticket", ticket, "applied", applied)
		return false
	}
	g.applied = ticket
	g.state = state
	g.mu.Unlock()

	// 并发刷新时通知可能乱序，总是推送最新快照。
	g.watchers.notify(g.CurrentState().View())
	return true
}

// Subscribe 注册配额变化回调，返回取消订阅函数。
func (g *QuotaGuard) Subscribe(fn func(QuotaView)) func() {
	return g.watchers.add(fn)
}

// Classify 按 HTTP 状态码分类：2xx 成功，403 配额用尽，其余都是普通错误。
func (g *QuotaGuard) Classify(status int) Outcome {
	return classifyStatus(status)
}

// ClassifyError 对调用返回的 error 分类。超时和网络错误属于普通错误。
func (g *QuotaGuard) ClassifyError(err error) Outcome {
	return classifyError(err)
}

func classifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeOK
	case status == http.StatusForbidden:
		return OutcomeQuotaExceeded
	default:
		return OutcomeOtherError
	}
}

func classifyError(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if code := eduapi.StatusCode(err); code != 0 {
		if o := classifyStatus(code); o != OutcomeOK {
			return o
		}
	}
	return OutcomeOtherError
}

// outcomeError 把分类结果转换为对外的哨兵错误。
func outcomeError(o Outcome, cause error) error {
	switch o {
	case OutcomeOK:
		return nil
	case OutcomeQuotaExceeded:
		return ErrQuotaExceeded
	default:
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, cause)
	}
}
