package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pai-tutor-go/internal/tutor"
	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/events"
	"pai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type tutorServer struct {
	url       string
	jwt       *token.JWTManager
	client    *fakeClient
	publisher *recordingPublisher
}

func newTutorServer(t *testing.T, opts tutor.SessionOptions) *tutorServer {
	t.Helper()
	ts := &tutorServer{
		jwt:       token.NewJWTManager("test-secret", time.Hour),
		client:    newFakeClient(),
		publisher: &recordingPublisher{},
	}
	h := NewTutorHandler(ts.jwt, ts.client.factory, ts.publisher, opts)

	r := gin.New()
	r.GET("/tutor/:token", h.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/tutor/"
	return ts
}

func (ts *tutorServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	tok, err := ts.jwt.GenerateToken(1, "alice", "USER")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(ts.url+tok, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil reads frames until match returns true for one of them.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireFrame) bool) wireFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("reading frames: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func ofType(typ string) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.Type == typ }
}

func snapshotWith(n int) func(wireFrame) bool {
	return func(f wireFrame) bool {
		if f.Type != frameSnapshot {
			return false
		}
		var s tutor.Snapshot
		return json.Unmarshal(f.Data, &s) == nil && len(s.Messages) == n
	}
}

func noticeOf(code string) func(wireFrame) bool {
	return func(f wireFrame) bool {
		if f.Type != frameNotice {
			return false
		}
		var n noticePayload
		return json.Unmarshal(f.Data, &n) == nil && n.Code == code
	}
}

func quizIn(state string) func(wireFrame) bool {
	return func(f wireFrame) bool {
		if f.Type != frameQuiz {
			return false
		}
		var q quizPayload
		return json.Unmarshal(f.Data, &q) == nil && q.State == state
	}
}

func TestTutorHandler_RejectsBadToken(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{})
	_, resp, err := websocket.DefaultDialer.Dial(ts.url+"not-a-token", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTutorHandler_InitialFrames(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{WelcomeMessage: "你好！"})
	conn := ts.dial(t)

	f := readUntil(t, conn, ofType(frameSnapshot))
	var snap tutor.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &snap))
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "你好！", snap.Messages[0].Content)
	assert.Equal(t, tutor.ModeDirect, snap.Mode)

	f = readUntil(t, conn, ofType(frameStatus))
	var st statusPayload
	require.NoError(t, json.Unmarshal(f.Data, &st))
	assert.Equal(t, tutor.StateIdle, st.State)

	// Profile refresh replaces the unlimited placeholder.
	readUntil(t, conn, func(f wireFrame) bool {
		var q tutor.QuotaView
		return f.Type == frameQuota && json.Unmarshal(f.Data, &q) == nil && !q.Unlimited && q.Remaining == 8
	})

	assert.Eventually(t, func() bool { return ts.publisher.has(events.SessionOpened) }, time.Second, 10*time.Millisecond)
	ts.client.mu.Lock()
	assert.NotEmpty(t, ts.client.tokens[0])
	ts.client.mu.Unlock()
}

func TestTutorHandler_SubmitRoundTrip(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{WelcomeMessage: "hi"})
	conn := ts.dial(t)

	send(t, conn, clientFrame{Type: frameContext, Subject: "Biology", Topic: "Plants"})
	send(t, conn, clientFrame{Type: frameMode, Mode: "socratic"})
	send(t, conn, clientFrame{Type: frameSubmit, Text: "How do plants eat?"})

	readUntil(t, conn, func(f wireFrame) bool {
		var s statusPayload
		return f.Type == frameStatus && json.Unmarshal(f.Data, &s) == nil && s.State == tutor.StatePending
	})
	f := readUntil(t, conn, snapshotWith(3))
	var snap tutor.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &snap))
	assert.Equal(t, "How do plants eat?", snap.Messages[1].Content)
	assert.Equal(t, "Plants use sunlight.", snap.Messages[2].Content)
	assert.Equal(t, tutor.ModeSocratic, snap.Mode)
	assert.Equal(t, "Biology", snap.SubjectContext)
}

func TestTutorHandler_Notices(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{})
	conn := ts.dial(t)

	send(t, conn, clientFrame{Type: frameSubmit, Text: "   "})
	f := readUntil(t, conn, noticeOf(noticeEmptySubmission))
	var n noticePayload
	require.NoError(t, json.Unmarshal(f.Data, &n))
	assert.Equal(t, noticeCopy[noticeEmptySubmission], n.Message)

	send(t, conn, clientFrame{Type: "dance"})
	readUntil(t, conn, noticeOf(noticeInvalidFrame))

	send(t, conn, clientFrame{Type: frameMode, Mode: "lecture"})
	readUntil(t, conn, noticeOf(noticeInvalidFrame))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	readUntil(t, conn, noticeOf(noticeInvalidFrame))
}

func TestTutorHandler_QuotaExceeded(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{})
	ts.client.set(func(f *fakeClient) {
		f.chatErr = forbidden()
		f.profile = &eduapi.Profile{AIQuotaLimit: 5, AIQuotaUsed: 5}
	})
	conn := ts.dial(t)

	send(t, conn, clientFrame{Type: frameSubmit, Text: "what is a cell?"})
	f := readUntil(t, conn, noticeOf(noticeQuotaExceeded))
	var n noticePayload
	require.NoError(t, json.Unmarshal(f.Data, &n))
	assert.Equal(t, "chat", n.Source)
	assert.NotEqual(t, noticeCopy[noticeBackendUnavailable], n.Message)

	assert.Eventually(t, func() bool { return ts.publisher.has(events.QuotaExceeded) }, time.Second, 10*time.Millisecond)
}

func TestTutorHandler_BackendFailure(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{})
	ts.client.set(func(f *fakeClient) { f.chatErr = &eduapi.StatusError{StatusCode: http.StatusBadGateway} })
	conn := ts.dial(t)

	send(t, conn, clientFrame{Type: frameSubmit, Text: "hello"})
	readUntil(t, conn, noticeOf(noticeBackendUnavailable))
	assert.Eventually(t, func() bool { return ts.publisher.has(events.RequestFailed) }, time.Second, 10*time.Millisecond)
}

func TestTutorHandler_QuizFromMarker(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{StripMarkers: true})
	ts.client.set(func(f *fakeClient) {
		f.chatResp = &eduapi.ChatResponse{Response: "Let's practice! [QUIZ_MODE: hard | Photosynthesis]"}
	})
	conn := ts.dial(t)

	send(t, conn, clientFrame{Type: frameSubmit, Text: "quiz me"})
	f := readUntil(t, conn, snapshotWith(2))
	var snap tutor.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &snap))
	assert.Equal(t, "Let's practice!", snap.Messages[1].Content)

	readUntil(t, conn, quizIn("generating"))
	f = readUntil(t, conn, quizIn("ready"))
	var q quizPayload
	require.NoError(t, json.Unmarshal(f.Data, &q))
	require.NotNil(t, q.Quiz)
	assert.Equal(t, "Photosynthesis", q.Quiz.Topic)
	assert.Equal(t, "hard", q.Quiz.Difficulty)
	assert.Len(t, q.Quiz.Questions, 1)

	assert.Eventually(t, func() bool { return ts.publisher.has(events.QuizTriggered) }, time.Second, 10*time.Millisecond)
}

func TestTutorHandler_Explain(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{})
	conn := ts.dial(t)

	send(t, conn, clientFrame{Type: frameExplain, QuestionID: "q-7", StudentAnswerIndex: 1})
	f := readUntil(t, conn, ofType(frameExplanation))
	var payload struct {
		QuestionID  string             `json:"questionId"`
		Explanation eduapi.Explanation `json:"explanation"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, "q-7", payload.QuestionID)
	assert.Equal(t, []string{"light"}, payload.Explanation.KeyConcepts)

	send(t, conn, clientFrame{Type: frameExplain})
	readUntil(t, conn, noticeOf(noticeInvalidFrame))
}

func TestTutorHandler_CloseEmitsSessionClosed(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{})
	conn := ts.dial(t)
	readUntil(t, conn, ofType(frameSnapshot))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return ts.publisher.has(events.SessionClosed) }, 2*time.Second, 10*time.Millisecond)
}

func TestTutorHandler_CloseMidRequestIsNotAFailure(t *testing.T) {
	ts := newTutorServer(t, tutor.SessionOptions{})
	ts.client.set(func(f *fakeClient) { f.gate = make(chan struct{}) })
	conn := ts.dial(t)

	send(t, conn, clientFrame{Type: frameSubmit, Text: "a slow question"})
	readUntil(t, conn, func(f wireFrame) bool {
		var s statusPayload
		return f.Type == frameStatus && json.Unmarshal(f.Data, &s) == nil && s.State == tutor.StatePending
	})

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "")))
	conn.Close()

	require.Eventually(t, func() bool { return ts.publisher.has(events.SessionClosed) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, ts.publisher.has(events.RequestFailed))
	assert.False(t, ts.publisher.has(events.QuotaExceeded))
}
