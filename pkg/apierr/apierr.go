// Package apierr 描述外部服务调用失败，并区分可重试与不可重试两类错误。
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error 是外部 HTTP 服务返回的非成功响应。
type Error struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Temporary 限流与服务端错误可重试，其余 4xx 视为永久拒绝。
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsTemporary 判断 err 是否属于瞬时错误（超时、网络错误、限流、5xx）。
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
