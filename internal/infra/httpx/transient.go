package httpx

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// IsTransient 判断错误是否属于“换个连接/稍后再试可能成功”的网络错误。
//
// 约束：
// - 调用方 ctx 被取消（context.Canceled）不是瞬时错误
// - 单次尝试超时（context.DeadlineExceeded / net.Error.Timeout）是瞬时错误
// - 连接被重置/中止/拒绝、读到意外 EOF 是瞬时错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
