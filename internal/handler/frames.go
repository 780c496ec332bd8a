package handler

import (
	"context"
	"errors"
	"time"

	"pai-tutor-go/internal/tutor"
)

// 客户端帧类型
const (
	frameSubmit  = "submit"
	frameMode    = "mode"
	frameContext = "context"
	frameExplain = "explain"
)

// 服务端帧类型
const (
	frameSnapshot    = "snapshot"
	frameStatus      = "status"
	frameQuota       = "quota"
	frameQuiz        = "quiz"
	frameExplanation = "explanation"
	frameNotice      = "notice"
)

// 提示码
const (
	noticeQuotaExceeded      = "quota_exceeded"
	noticeBackendUnavailable = "backend_unavailable"
	noticeEmptySubmission    = "empty_submission"
	noticeRequestInFlight    = "request_in_flight"
	noticeInvalidFrame       = "invalid_frame"
)

var noticeCopy = map[string]string{
	noticeQuotaExceeded:      "本周期的 AI 使用额度已用完，请等待额度重置或联系老师提升额度。",
	noticeBackendUnavailable: "AI 助教暂时无法响应，请稍后重新发送。",
	noticeEmptySubmission:    "请输入问题后再发送。",
	noticeRequestInFlight:    "上一个问题还在思考中，请稍候。",
	noticeInvalidFrame:       "无法识别的请求。",
}

// clientFrame 是客户端发来的消息。
type clientFrame struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	Mode               string `json:"mode,omitempty"`
	Subject            string `json:"subject,omitempty"`
	Topic              string `json:"topic,omitempty"`
	QuestionID         string `json:"questionId,omitempty"`
	StudentAnswerIndex int    `json:"studentAnswerIndex,omitempty"`
	Context            string `json:"context,omitempty"`
}

// serverFrame 是推送给客户端的消息。
type serverFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func newFrame(typ string, data interface{}) serverFrame {
	return serverFrame{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}
}

type statusPayload struct {
	State       tutor.State `json:"state"`
	PendingText string      `json:"pendingText,omitempty"`
	// Error 是最近一次失败对应的提示码。
	Error string `json:"error,omitempty"`
}

type noticePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Source 标明提示来自哪个操作：chat、quiz 或 explain。
	Source string `json:"source,omitempty"`
}

type quizPayload struct {
	State string      `json:"state"` // generating | ready | failed
	Quiz  *tutor.Quiz `json:"quiz,omitempty"`
	Topic string      `json:"topic,omitempty"`
}

func newNotice(code, source string) serverFrame {
	return newFrame(frameNotice, noticePayload{Code: code, Message: noticeCopy[code], Source: source})
}

// noticeCode 把会话错误映射为提示码。会话关闭或请求被放弃时不需要提示，返回空串。
func noticeCode(err error) string {
	switch {
	case err == nil, errors.Is(err, tutor.ErrSessionClosed), errors.Is(err, context.Canceled):
		return ""
	case errors.Is(err, tutor.ErrQuotaExceeded):
		return noticeQuotaExceeded
	case errors.Is(err, tutor.ErrEmptySubmission):
		return noticeEmptySubmission
	case errors.Is(err, tutor.ErrRequestInFlight):
		return noticeRequestInFlight
	default:
		return noticeBackendUnavailable
	}
}

func newStatusFrame(s tutor.Status) serverFrame {
	return newFrame(frameStatus, statusPayload{State: s.State, PendingText: s.PendingText, Error: noticeCode(s.LastError)})
}
