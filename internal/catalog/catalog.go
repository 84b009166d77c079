// Package catalog 获取 Cinemeta 目录页并为每个条目附加评分。
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/John-Robertt/ratingmeta/internal/cinemeta"
	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/infra/cache"
	"github.com/John-Robertt/ratingmeta/internal/metrics"
)

const defaultConcurrency = 8

// Lister 提供目录地址映射与目录页获取（cinemeta.Client 实现）。
type Lister interface {
	CatalogPageURL(id string, typ domain.MediaType, e cinemeta.Extra, now time.Time) (string, bool)
	Catalog(ctx context.Context, u string) ([]domain.TitleMeta, error)
}

// Enricher 为单个条目附加评分（enrich.Service 实现）。
type Enricher interface {
	ScrapeRatings(ctx context.Context, titleID string, mediaType domain.MediaType, allowed []string) domain.TitleMeta
	Apply(ctx context.Context, meta domain.TitleMeta, ratings domain.RatingMap, allowed []string) domain.TitleMeta
}

// RatingsStore 批量读取预先计算的评分（repository.Ratings 实现）。
type RatingsStore interface {
	ForTitles(ctx context.Context, ids []string) (map[string]domain.RatingMap, error)
}

// Request 是一次目录请求。
type Request struct {
	ID        string
	Type      domain.MediaType
	Extra     cinemeta.Extra
	Providers []string
}

// Response 与 Cinemeta 的目录响应同形。
type Response struct {
	Metas []domain.TitleMeta `json:"metas"`
}

// Service 组合目录获取、评分来源与响应缓存。
type Service struct {
	Lister   Lister
	Enricher Enricher
	// DB 可选：配置后评分全部来自一次批量查询，不再抓取。
	DB    RatingsStore
	Cache *cache.Store
	TTL   time.Duration

	Concurrency int
	Now         func() time.Time
	Log         zerolog.Logger
}

// CacheKey 返回目录响应的缓存 key：catalog:<id>:<xxhash(type|extra|providers)>。
func CacheKey(req Request) string {
	h := xxhash.Sum64String(fmt.Sprintf("%s|%s|%s", req.Type, req.Extra, strings.Join(req.Providers, ",")))
	return fmt.Sprintf("catalog:%s:%016x", req.ID, h)
}

// Get 返回增强后的目录页。
//
// 约束：
// - 未知目录 ID：返回空列表，不报错，不缓存
// - 结果保持上游顺序
// - 只缓存成功的响应
func (s *Service) Get(ctx context.Context, req Request) (Response, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	u, ok := s.Lister.CatalogPageURL(req.ID, req.Type, req.Extra, now())
	if !ok {
		s.Log.Debug().Str("catalog", req.ID).Msg("未知目录")
		return Response{Metas: []domain.TitleMeta{}}, nil
	}

	key := CacheKey(req)
	var cached Response
	if s.Cache.GetJSON(ctx, key, &cached) {
		if cached.Metas == nil {
			cached.Metas = []domain.TitleMeta{}
		}
		return cached, nil
	}

	metas, err := s.Lister.Catalog(ctx, u)
	if err != nil {
		return Response{}, fmt.Errorf("获取目录 %s 失败：%w", req.ID, err)
	}

	resp := Response{Metas: s.enrich(ctx, req, metas)}
	if err := ctx.Err(); err != nil {
		// 中途取消的页面可能只有部分条目被增强，不能进缓存。
		s.Log.Debug().Err(err).Str("catalog", req.ID).Msg("请求已结束，跳过目录缓存")
		return resp, nil
	}
	s.Cache.PutJSON(ctx, key, resp, s.TTL)
	return resp, nil
}

func (s *Service) enrich(ctx context.Context, req Request, metas []domain.TitleMeta) []domain.TitleMeta {
	out := make([]domain.TitleMeta, len(metas))
	if len(metas) == 0 {
		return out
	}

	var fromDB map[string]domain.RatingMap
	if s.DB != nil {
		ids := make([]string, 0, len(metas))
		for _, m := range metas {
			ids = append(ids, m.ID)
		}
		r, err := s.DB.ForTitles(ctx, ids)
		if err != nil {
			s.Log.Warn().Err(err).Str("catalog", req.ID).Msg("读取数据库评分失败，条目不附加评分")
			r = map[string]domain.RatingMap{}
		}
		fromDB = r
	}

	n := s.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	p := pool.New().WithMaxGoroutines(n)
	for i, m := range metas {
		i, m := i, m
		p.Go(func() {
			if fromDB != nil {
				metrics.CatalogItems.WithLabelValues("database").Inc()
				out[i] = s.Enricher.Apply(ctx, m, fromDB[m.ID], req.Providers)
				return
			}
			metrics.CatalogItems.WithLabelValues("scrape").Inc()
			typ := req.Type
			if t, ok := domain.ParseMediaType(m.Type); ok {
				typ = t
			}
			if strings.TrimSpace(m.ID) == "" {
				out[i] = m
				return
			}
			got := s.Enricher.ScrapeRatings(ctx, m.ID, typ, req.Providers)
			if got.ID == "" {
				// 元数据解析失败：保留目录中的条目。
				got = m
			}
			out[i] = got
		})
	}
	p.Wait()
	return out
}
