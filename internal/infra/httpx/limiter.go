package httpx

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter 按 host 维护独立的令牌桶，避免对同一搜索引擎突发请求。
type HostLimiter struct {
	mu    sync.Mutex
	r     rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

func NewHostLimiter(perSec float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{r: rate.Limit(perSec), burst: burst, m: make(map[string]*rate.Limiter)}
}

// Wait 阻塞到 host 有可用令牌或 ctx 结束。
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	return l.get(host).Wait(ctx)
}

func (l *HostLimiter) get(host string) *rate.Limiter {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[host]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.m[host] = lim
	}
	return lim
}
