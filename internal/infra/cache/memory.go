package cache

import (
	"context"
	"sync"
	"time"
)

// Memory 是进程内后端（单实例部署与测试用）。Now 可替换为假时钟。
type Memory struct {
	Now func() time.Time

	mu sync.RWMutex
	m  map[string]memEntry
}

type memEntry struct {
	val []byte
	exp time.Time // 零值表示不过期
}

func NewMemory() *Memory {
	return &Memory{Now: time.Now, m: make(map[string]memEntry)}
}

func (b *Memory) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	e, ok := b.m[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !b.now().Before(e.exp) {
		b.mu.Lock()
		if cur, ok := b.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(b.m, key)
		}
		b.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (b *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = b.now().Add(ttl)
	}
	b.mu.Lock()
	b.m[key] = e
	b.mu.Unlock()
	return nil
}

func (b *Memory) Close() error { return nil }
