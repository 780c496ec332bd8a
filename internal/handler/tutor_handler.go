// Package handler 包含了处理 HTTP 与 WebSocket 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"pai-tutor-go/internal/tutor"
	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/events"
	"pai-tutor-go/pkg/kafka"
	"pai-tutor-go/pkg/log"
	"pai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 64 << 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，鉴权依赖路径中的 token
	},
}

// BackendFactory 以用户 token 的身份创建后端客户端。
type BackendFactory func(token string) eduapi.Client

// TutorHandler 负责辅导会话的 WebSocket 连接。一个连接对应一个会话。
type TutorHandler struct {
	jwtManager *token.JWTManager
	newBackend BackendFactory
	publisher  kafka.Publisher
	opts       tutor.SessionOptions
}

// NewTutorHandler 创建一个新的 TutorHandler。
func NewTutorHandler(jwtManager *token.JWTManager, newBackend BackendFactory, publisher kafka.Publisher, opts tutor.SessionOptions) *TutorHandler {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &TutorHandler{
		jwtManager: jwtManager,
		newBackend: newBackend,
		publisher:  publisher,
		opts:       opts,
	}
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *TutorHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}

	conn := newTutorConn(ws, h.publisher, claims)
	session := tutor.NewSession(h.newBackend(tokenString), conn, h.opts)
	conn.sessionID = session.ID
	conn.run(session)
}

// tutorConn 把一个 Session 绑定到一个 WebSocket 连接上。
// 所有写操作都经由 send 通道交给 writePump，保证同一时刻只有一个写者。
type tutorConn struct {
	ws        *websocket.Conn
	publisher kafka.Publisher
	claims    *token.CustomClaims
	sessionID string

	send chan serverFrame
	done chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newTutorConn(ws *websocket.Conn, publisher kafka.Publisher, claims *token.CustomClaims) *tutorConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &tutorConn{
		ws:        ws,
		publisher: publisher,
		claims:    claims,
		send:      make(chan serverFrame, sendBufferSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (tc *tutorConn) run(session *tutor.Session) {
	log.Infow("辅导会话已建立", "user", tc.claims.Username, "session", session.ID)
	tc.publish(events.SessionOpened, "")

	tc.wg.Add(1)
	go tc.writePump()

	unsubscribe := []func(){
		session.Store.Subscribe(func(s tutor.Snapshot) { tc.push(newFrame(frameSnapshot, s)) }),
		session.Coordinator.Subscribe(func(s tutor.Status) { tc.push(newStatusFrame(s)) }),
		session.Guard.Subscribe(func(v tutor.QuotaView) { tc.push(newFrame(frameQuota, v)) }),
	}

	tc.push(newFrame(frameSnapshot, session.Store.Snapshot()))
	tc.push(newStatusFrame(session.Coordinator.Status()))
	tc.push(newFrame(frameQuota, session.Guard.CurrentState().View()))

	var tasks sync.WaitGroup
	tasks.Add(1)
	go func() {
		defer tasks.Done()
		if err := session.RefreshQuota(tc.ctx); err != nil {
			log.Warnf("会话 %s 初始化配额失败: %v", session.ID, err)
		}
	}()

	tc.readLoop(session, &tasks)

	// 视图关闭：先关闭会话，让迟到的结果被会话丢弃，再取消连接上下文和写协程。
	session.Close()
	tc.cancel()
	tasks.Wait()
	for _, fn := range unsubscribe {
		fn()
	}
	close(tc.done)
	tc.wg.Wait()
	_ = tc.ws.Close()

	tc.publish(events.SessionClosed, "")
	log.Infow("辅导会话已关闭", "user", tc.claims.Username, "session", session.ID)
}

func (tc *tutorConn) readLoop(session *tutor.Session, tasks *sync.WaitGroup) {
	tc.ws.SetReadLimit(maxFrameSize)
	_ = tc.ws.SetReadDeadline(time.Now().Add(pongWait))
	tc.ws.SetPongHandler(func(string) error {
		return tc.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := tc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			tc.push(newNotice(noticeInvalidFrame, ""))
			continue
		}

		switch frame.Type {
		case frameSubmit:
			tasks.Add(1)
			go func() {
				defer tasks.Done()
				tc.submit(session, frame.Text)
			}()
		case frameMode:
			mode, err := tutor.ParseMode(frame.Mode)
			if err != nil {
				tc.push(newNotice(noticeInvalidFrame, ""))
				continue
			}
			session.SetMode(mode)
		case frameContext:
			session.SetContext(frame.Subject, frame.Topic)
		case frameExplain:
			if frame.QuestionID == "" {
				tc.push(newNotice(noticeInvalidFrame, "explain"))
				continue
			}
			req := eduapi.ExplainRequest{
				QuestionID:         frame.QuestionID,
				StudentAnswerIndex: frame.StudentAnswerIndex,
				Context:            frame.Context,
			}
			tasks.Add(1)
			go func() {
				defer tasks.Done()
				tc.explain(session, req)
			}()
		default:
			tc.push(newNotice(noticeInvalidFrame, ""))
		}
	}
}

func (tc *tutorConn) submit(session *tutor.Session, text string) {
	_, err := session.Submit(tc.ctx, text)
	tc.report("chat", err)
}

func (tc *tutorConn) explain(session *tutor.Session, req eduapi.ExplainRequest) {
	resp, err := session.ExplainAnswer(tc.ctx, req)
	if err != nil {
		tc.report("explain", err)
		return
	}
	tc.push(newFrame(frameExplanation, gin.H{"questionId": req.QuestionID, "explanation": resp}))
}

// report 把失败推送为提示，并记录对应的使用事件。
func (tc *tutorConn) report(source string, err error) {
	code := noticeCode(err)
	if code == "" {
		return
	}
	tc.push(newNotice(code, source))
	switch code {
	case noticeQuotaExceeded:
		tc.publish(events.QuotaExceeded, source)
	case noticeBackendUnavailable:
		tc.publish(events.RequestFailed, source)
	}
}

// QuizStarted 实现 tutor.QuizSink。
func (tc *tutorConn) QuizStarted(trigger tutor.QuizTrigger) {
	tc.publish(events.QuizTriggered, trigger.Topic)
	tc.push(newFrame(frameQuiz, quizPayload{State: "generating", Topic: trigger.Topic}))
}

// QuizReady 实现 tutor.QuizSink。
func (tc *tutorConn) QuizReady(quiz tutor.Quiz) {
	tc.push(newFrame(frameQuiz, quizPayload{State: "ready", Quiz: &quiz, Topic: quiz.Topic}))
}

// QuizFailed 实现 tutor.QuizSink。
func (tc *tutorConn) QuizFailed(trigger tutor.QuizTrigger, err error) {
	tc.push(newFrame(frameQuiz, quizPayload{State: "failed", Topic: trigger.Topic}))
	tc.report("quiz", err)
}

// push 把帧交给写协程。连接关闭后直接丢弃。
func (tc *tutorConn) push(f serverFrame) {
	select {
	case tc.send <- f:
	case <-tc.done:
	}
}

func (tc *tutorConn) writePump() {
	defer tc.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-tc.send:
			_ = tc.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := tc.ws.WriteJSON(f); err != nil {
				log.Warnf("写入 WebSocket 失败: %v", err)
				// 让读循环尽快退出
				_ = tc.ws.Close()
				tc.drain()
				return
			}
		case <-ticker.C:
			_ = tc.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := tc.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = tc.ws.Close()
				tc.drain()
				return
			}
		case <-tc.done:
			_ = tc.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// drain 在写失败后继续消费 send，直到连接完成清理，避免 push 阻塞。
func (tc *tutorConn) drain() {
	for {
		select {
		case <-tc.send:
		case <-tc.done:
			return
		}
	}
}

func (tc *tutorConn) publish(t events.Type, detail string) {
	ev := events.New(t, tc.claims.UserID, tc.claims.Username, tc.sessionID, detail)
	if err := tc.publisher.Publish(context.Background(), ev); err != nil {
		log.Warnf("发布使用事件失败: type=%s, err=%v", t, err)
	}
}
