package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/events"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeClient implements eduapi.Client in memory.
type fakeClient struct {
	mu sync.Mutex

	chatResp   *eduapi.ChatResponse
	chatErr    error
	quizResp   *eduapi.QuizResponse
	explain    *eduapi.Explanation
	status     *eduapi.Status
	statusErr  error
	profile    *eduapi.Profile
	statusHits int
	tokens     []string

	// gate, when set, holds Chat until it is closed or the request is cancelled.
	gate chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		chatResp: &eduapi.ChatResponse{Response: "Plants use sunlight.", Suggestions: []string{"What is chlorophyll?"}},
		quizResp: &eduapi.QuizResponse{Questions: []eduapi.QuizQuestion{{Question: "q1", Options: []string{"a", "b"}, CorrectAnswer: 1}}},
		explain:  &eduapi.Explanation{Explanation: "Option B is correct because...", KeyConcepts: []string{"light"}},
		status:   &eduapi.Status{Available: true},
		profile:  &eduapi.Profile{ID: 1, Username: "alice", AIQuotaLimit: 10, AIQuotaUsed: 2},
	}
}

func (f *fakeClient) factory(token string) eduapi.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return f
}

func (f *fakeClient) Chat(ctx context.Context, req eduapi.ChatRequest) (*eduapi.ChatResponse, error) {
	f.mu.Lock()
	gate, resp, err := f.gate, f.chatResp, f.chatErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *fakeClient) ExplainAnswer(ctx context.Context, req eduapi.ExplainRequest) (*eduapi.Explanation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.explain, nil
}

func (f *fakeClient) GenerateQuiz(ctx context.Context, req eduapi.QuizRequest) (*eduapi.QuizResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quizResp, nil
}

func (f *fakeClient) GetStatus(ctx context.Context) (*eduapi.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHits++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	s := *f.status
	return &s, nil
}

func (f *fakeClient) GetProfile(ctx context.Context) (*eduapi.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *f.profile
	return &p, nil
}

func (f *fakeClient) set(fn func(f *fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func forbidden() error {
	return &eduapi.StatusError{Op: "/ai/chat", StatusCode: http.StatusForbidden, Message: "quota exceeded"}
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TutorEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.TutorEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) has(t events.Type) bool {
	for _, got := range p.types() {
		if got == t {
			return true
		}
	}
	return false
}

// memStatusRepo is an in-memory repository.StatusRepository.
type memStatusRepo struct {
	mu      sync.Mutex
	entries map[uint]*eduapi.Status
	ttl     time.Duration
	getErr  error
}

func (m *memStatusRepo) Get(_ context.Context, userID uint) (*eduapi.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.entries[userID], nil
}

func (m *memStatusRepo) Set(_ context.Context, userID uint, status *eduapi.Status, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[uint]*eduapi.Status{}
	}
	m.entries[userID] = status
	m.ttl = ttl
	return nil
}

// memEventRepo is an in-memory repository.EventRepository.
type memEventRepo struct {
	counts map[string]int64
	err    error
}

func (m *memEventRepo) Save(context.Context, events.TutorEvent) error { return m.err }

func (m *memEventRepo) CountByType(context.Context, uint) (map[string]int64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.counts, nil
}

var errBoom = errors.New("boom")
