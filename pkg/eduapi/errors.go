package eduapi

import (
	"errors"
	"fmt"
)

// StatusError 表示后端返回了非 2xx 状态码。
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("eduapi: %s returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("eduapi: %s returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// StatusCode 返回 err 中携带的 HTTP 状态码，网络错误或超时返回 0。
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
