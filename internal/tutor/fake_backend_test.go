package tutor

import (
	"context"
	"net/http"
	"sync"

	"pai-tutor-go/pkg/eduapi"
)

// fakeBackend implements Backend in memory. A non-nil gate blocks Chat
// until it is closed or the request context ends.
type fakeBackend struct {
	mu sync.Mutex

	chatResp   *eduapi.ChatResponse
	chatErr    error
	quizResp   *eduapi.QuizResponse
	quizErr    error
	explain    *eduapi.Explanation
	explainErr error
	profile    *eduapi.Profile
	profileErr error

	gate    chan struct{}
	started chan struct{}

	chatCalls    []eduapi.ChatRequest
	quizCalls    []eduapi.QuizRequest
	profileCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chatResp: &eduapi.ChatResponse{Response: "ok"},
		quizResp: &eduapi.QuizResponse{},
		explain:  &eduapi.Explanation{Explanation: "because"},
		profile:  &eduapi.Profile{AIQuotaLimit: 10, AIQuotaUsed: 1},
		started:  make(chan struct{}, 16),
	}
}

func forbidden() error {
	return &eduapi.StatusError{Op: "/ai/chat", StatusCode: http.StatusForbidden, Message: "quota exceeded"}
}

func (f *fakeBackend) Chat(ctx context.Context, req eduapi.ChatRequest) (*eduapi.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, req)
	gate := f.gate
	resp, err := f.chatResp, f.chatErr
	f.mu.Unlock()

	f.started <- struct{}{}
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

func (f *fakeBackend) GenerateQuiz(ctx context.Context, req eduapi.QuizRequest) (*eduapi.QuizResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quizCalls = append(f.quizCalls, req)
	if f.quizErr != nil {
		return nil, f.quizErr
	}
	return f.quizResp, nil
}

func (f *fakeBackend) ExplainAnswer(ctx context.Context, req eduapi.ExplainRequest) (*eduapi.Explanation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.explainErr != nil {
		return nil, f.explainErr
	}
	return f.explain, nil
}

func (f *fakeBackend) GetProfile(ctx context.Context) (*eduapi.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeBackend) lastChat() eduapi.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls[len(f.chatCalls)-1]
}

func (f *fakeBackend) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chatCalls)
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
