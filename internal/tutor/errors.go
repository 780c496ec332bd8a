package tutor

import "errors"

var (
	// ErrEmptySubmission 表示输入为空或只有空白，不会发出请求。
	ErrEmptySubmission = errors.New("tutor: empty submission")
	// ErrRequestInFlight 表示同一会话已有请求未完成。
	ErrRequestInFlight = errors.New("tutor: a request is already in flight")
	// ErrQuotaExceeded 表示 AI 配额已用尽，不会自动重试。
	ErrQuotaExceeded = errors.New("tutor: AI quota exceeded")
	// ErrBackendUnavailable 表示网络或服务端错误，用户可以手动重新提交。
	ErrBackendUnavailable = errors.New("tutor: AI backend unavailable")
	// ErrSessionClosed 表示会话已关闭。
	ErrSessionClosed = errors.New("tutor: session closed")
)
