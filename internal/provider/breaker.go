package provider

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/metrics"
)

// BreakerSettings 控制每个 source 的熔断策略。
type BreakerSettings struct {
	// Failures 是连续 fetch 失败多少次后熔断；<=0 使用 5。
	Failures uint32
	// OpenTimeout 是熔断后多久进入 half-open；<=0 使用 1 分钟。
	OpenTimeout time.Duration
}

// Breakers 为每个 source 懒创建一个 circuit breaker。nil *Breakers 表示不熔断。
//
// 只有 fetch 阶段失败计入熔断（网络/拦截/状态码）；parse 阶段失败（例如冷门片名没有评分卡片）
// 不代表 source 不可用。
type Breakers struct {
	settings BreakerSettings

	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker[domain.RatingMap]
}

func NewBreakers(s BreakerSettings) *Breakers {
	if s.Failures == 0 {
		s.Failures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = time.Minute
	}
	return &Breakers{settings: s, m: make(map[string]*gobreaker.CircuitBreaker[domain.RatingMap])}
}

// Execute 在 name 对应的 breaker 中执行 fn。breaker 打开时返回 gobreaker.ErrOpenState。
func (b *Breakers) Execute(name string, fn func() (domain.RatingMap, error)) (domain.RatingMap, error) {
	if b == nil {
		return fn()
	}
	return b.get(name).Execute(fn)
}

// State 返回 name 的当前状态；从未使用过的 source 视为 closed。
func (b *Breakers) State(name string) gobreaker.State {
	if b == nil {
		return gobreaker.StateClosed
	}
	b.mu.Lock()
	cb, ok := b.m[name]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (b *Breakers) get(name string) *gobreaker.CircuitBreaker[domain.RatingMap] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.m[name]; ok {
		return cb
	}
	failures := b.settings.Failures
	cb := gobreaker.NewCircuitBreaker[domain.RatingMap](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var pe *Error
			if errors.As(err, &pe) {
				return pe.Stage != StageFetch
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	b.m[name] = cb
	return cb
}

// isBreakerRejection 判断错误是否来自 breaker 本身（而非 source）。
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
