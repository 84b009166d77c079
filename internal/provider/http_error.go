package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HTTPStatusError 表示搜索引擎返回了非 2xx 的 HTTP 状态码。
// Source.Fetch 可以返回该错误，让日志与 Attempt 记录更可操作的失败原因。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// BlockedError 表示请求被引导到了 consent / captcha 等拦截页面。
// 不尝试绕过：该分支直接记为 fetch 失败，由其它分支竞速胜出，或由代理轮换缓解。
type BlockedError struct {
	URL    string
	Reason string // 例如 "consent"、"captcha"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked"
	}
	return "blocked: " + strings.TrimSpace(e.Reason)
}

// Describe 把 fetch 失败转换为便于日志检索的短描述（HTTP 状态 / 拦截 / 超时 / 原始错误）。
func Describe(err error) string {
	var se *HTTPStatusError
	var be *BlockedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &be):
		return be.Error()
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrRatingsNotFound):
		return "ratings not found"
	default:
		return err.Error()
	}
}
