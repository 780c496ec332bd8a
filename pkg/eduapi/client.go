// Package eduapi provides a client for the platform's AI backend REST API.
package eduapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"pai-tutor-go/internal/config"
	"strings"
	"time"
)

// Client 定义了辅导引擎用到的全部后端调用。
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ExplainAnswer(ctx context.Context, req ExplainRequest) (*Explanation, error)
	GenerateQuiz(ctx context.Context, req QuizRequest) (*QuizResponse, error)
	GetStatus(ctx context.Context) (*Status, error)
	GetProfile(ctx context.Context) (*Profile, error)
}

type httpClient struct {
	cfg    config.BackendConfig
	token  string
	client *http.Client
}

// NewClient 创建一个以 token 身份调用后端的客户端。
// 超时由每次调用的 context 控制，不在 http.Client 上设置。
func NewClient(cfg config.BackendConfig, token string) Client {
	return &httpClient{
		cfg:    cfg,
		token:  token,
		client: &http.Client{},
	}
}

// envelope 是平台 REST API 的统一响应包装 {code, message, data}。
type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *httpClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.do(ctx, c.cfg.Timeouts.Chat, http.MethodPost, "/ai/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) ExplainAnswer(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	var out Explanation
	if err := c.do(ctx, c.cfg.Timeouts.Explain, http.MethodPost, "/ai/explain", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GenerateQuiz(ctx context.Context, req QuizRequest) (*QuizResponse, error) {
	var out QuizResponse
	if err := c.do(ctx, c.cfg.Timeouts.Quiz, http.MethodPost, "/ai/quiz", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, c.cfg.Timeouts.Status, http.MethodGet, "/ai/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, c.cfg.Timeouts.Profile, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do 发送一次请求并把响应（或其 data 字段）解码到 out。
func (c *httpClient) do(ctx context.Context, timeout time.Duration, method, path string, body, out interface{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reqBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(reqBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	// 限制读取大小，避免异常响应占满内存
	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: path, StatusCode: resp.StatusCode, Message: errorMessage(respBytes)}
	}

	if err := decodeBody(respBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeBody 兼容两种响应：平台包装 {code, message, data} 与裸 JSON。
func decodeBody(raw []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Code != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(raw, out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
