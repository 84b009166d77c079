// Package cache 提供评分与 catalog 响应的 TTL 缓存（Redis / 文件 / 内存后端）。
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/metrics"
)

const (
	DefaultRatingTTL  = 24 * time.Hour
	DefaultCatalogTTL = 6 * time.Hour
)

var ErrReadOnly = errors.New("cache: read-only")

// Backend 是最小的 KV 接口。实现必须并发安全。
type Backend interface {
	// Get 返回值与是否命中；过期的条目视为未命中。
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set 写入并设置 TTL（ttl<=0 表示不过期）。
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Close() error
}

// Store 在 Backend 之上提供评分与 JSON 的读写。
//
// 约束：
// - nil *Store 或没有 backend：读总是未命中，写是 no-op
// - 读写失败只记录日志，不向调用方返回错误（缓存是 best-effort）
// - ReadOnly=true 时拒绝写（CLI 的 --no-cache-write）
type Store struct {
	backend  Backend
	ReadOnly bool
	Log      zerolog.Logger
}

func New(b Backend, log zerolog.Logger) *Store {
	return &Store{backend: b, Log: log}
}

func (s *Store) enabled() bool { return s != nil && s.backend != nil }

// RatingKey 是评分条目的唯一 key 形式：<titleID>:<sourceKey>（读写共用）。
func RatingKey(titleID, source string) string {
	return strings.TrimSpace(titleID) + ":" + source
}

// GetRatings 按 keys 的顺序逐个读取；返回命中的部分（可能为空）。
func (s *Store) GetRatings(ctx context.Context, titleID string, keys []string) domain.RatingMap {
	var m domain.RatingMap
	if !s.enabled() || strings.TrimSpace(titleID) == "" {
		return m
	}
	for _, k := range keys {
		k = domain.NormalizeSourceKey(k)
		if k == "" {
			continue
		}
		b, ok, err := s.backend.Get(ctx, RatingKey(titleID, k))
		switch {
		case err != nil:
			metrics.CacheRequests.WithLabelValues("ratings", "error").Inc()
			s.Log.Warn().Err(err).Str("title_id", titleID).Str("provider", k).Msg("读取评分缓存失败")
		case !ok:
			metrics.CacheRequests.WithLabelValues("ratings", "miss").Inc()
		default:
			metrics.CacheRequests.WithLabelValues("ratings", "hit").Inc()
			m.Set(k, domain.NormalizeScore(string(b)))
		}
	}
	return m
}

// PutRatings 为每条评分写一个条目；ttl<=0 使用 DefaultRatingTTL。
func (s *Store) PutRatings(ctx context.Context, titleID string, m domain.RatingMap, ttl time.Duration) {
	if !s.enabled() || strings.TrimSpace(titleID) == "" || m.Len() == 0 {
		return
	}
	if s.ReadOnly {
		s.Log.Debug().Err(ErrReadOnly).Str("title_id", titleID).Msg("跳过写评分缓存")
		return
	}
	if ttl <= 0 {
		ttl = DefaultRatingTTL
	}
	for _, r := range m.All() {
		if err := s.backend.Set(ctx, RatingKey(titleID, r.Source), []byte(r.Score), ttl); err != nil {
			metrics.CacheWrites.WithLabelValues("ratings", "error").Inc()
			s.Log.Warn().Err(err).Str("title_id", titleID).Str("provider", r.Source).Msg("写评分缓存失败")
			continue
		}
		metrics.CacheWrites.WithLabelValues("ratings", "ok").Inc()
	}
}

// GetJSON 读取并反序列化到 v；未命中或损坏时返回 false。
func (s *Store) GetJSON(ctx context.Context, key string, v any) bool {
	if !s.enabled() {
		return false
	}
	b, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		metrics.CacheRequests.WithLabelValues("json", "error").Inc()
		s.Log.Warn().Err(err).Str("key", key).Msg("读取缓存失败")
		return false
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues("json", "miss").Inc()
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		metrics.CacheRequests.WithLabelValues("json", "error").Inc()
		s.Log.Warn().Err(err).Str("key", key).Msg("缓存内容损坏")
		return false
	}
	metrics.CacheRequests.WithLabelValues("json", "hit").Inc()
	return true
}

// PutJSON 序列化 v 后写入；ttl<=0 使用 DefaultCatalogTTL。
func (s *Store) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if !s.enabled() || s.ReadOnly {
		return
	}
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("序列化缓存内容失败")
		return
	}
	if err := s.backend.Set(ctx, key, b, ttl); err != nil {
		metrics.CacheWrites.WithLabelValues("json", "error").Inc()
		s.Log.Warn().Err(err).Str("key", key).Msg("写缓存失败")
		return
	}
	metrics.CacheWrites.WithLabelValues("json", "ok").Inc()
}

// Close 关闭后端连接；nil Store 安全。
func (s *Store) Close() error {
	if !s.enabled() {
		return nil
	}
	return s.backend.Close()
}
