package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"pai-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 限制访问日志中记录的请求/响应体长度。
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 将响应同时写入 gin.ResponseWriter 和内部 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		w.body.Write(b[:min(room, len(b))])
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// WebSocket 升级请求只记录路径和耗时，路径中的 token 会被隐去。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		upgrade := strings.EqualFold(c.GetHeader("Upgrade"), "websocket")

		var requestBody []byte
		var blw *bodyLogWriter
		if !upgrade {
			if c.Request.Body != nil {
				requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
			}
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			blw = &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", redactPath(c.FullPath(), c.Request.URL.Path),
		}
		if blw != nil {
			fields = append(fields,
				"requestBody", truncate(string(requestBody)),
				"responseBody", blw.body.String(),
			)
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

// redactPath 对带 :token 参数的路由使用路由模板而不是真实路径。
func redactPath(route, path string) string {
	if strings.Contains(route, ":token") {
		return route
	}
	return path
}

func truncate(s string) string {
	if len(s) > maxLoggedBody {
		return s[:maxLoggedBody] + "..."
	}
	return s
}
