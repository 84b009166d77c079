// Package enrich 把评分抓取、过滤、描述拼接与海报合成串成一次元数据增强。
package enrich

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/infra/cache"
	"github.com/John-Robertt/ratingmeta/internal/infra/imgx"
	"github.com/John-Robertt/ratingmeta/internal/provider"
)

const defaultFlightTimeout = 60 * time.Second

// ShortcutKeys 是缓存探测的固定来源集合：任一命中即视为已有评分，不再抓取。
var ShortcutKeys = []string{"imdb", "metacritic", "rotten_tomatoes"}

// Resolver 提供作品元数据（cinemeta.Client 实现）。失败时返回零值。
type Resolver interface {
	Resolve(ctx context.Context, id string, typ domain.MediaType) domain.TitleMeta
}

// Annotator 在海报上合成评分（poster.Annotator 实现）。失败时返回原始字节。
type Annotator interface {
	Annotate(poster []byte, ratings domain.RatingMap) []byte
}

// Service 是增强流程的唯一入口。字段在首次调用前设置，之后只读。
type Service struct {
	Resolver  Resolver
	Sources   provider.Registry
	Breakers  *provider.Breakers
	Cache     *cache.Store
	Annotator Annotator

	// Fetch 用于搜索页抓取；Images 用于海报下载。
	Fetch  *http.Client
	Images *http.Client

	RatingTTL      time.Duration
	PosterMaxBytes int64

	// DefaultProviders 在调用方没有给 allow-list 时使用；为空等价于 ["all"]。
	DefaultProviders []string

	// FlightTimeout 限制一次合并抓取的总时长；<=0 时使用 defaultFlightTimeout。
	FlightTimeout time.Duration

	Log zerolog.Logger

	flight singleflight.Group
}

// ScrapeRatings 获取元数据并附加评分。
//
// 约束：
// - 从不返回错误、从不 panic：任何阶段失败都返回当前已得到的元数据
// - 名称为空：原样返回解析结果
// - 缓存中 ShortcutKeys 任一命中：直接使用缓存结果，不进行 racing
// - racing 全部失败：按空评分继续（描述与海报不变）
// - 相同 (id, type, allow-list) 的并发请求合并为一次
// - 合并后的抓取不继承任何调用方的取消，只受 FlightTimeout 约束；
//   某个调用方取消只让它自己提前返回零值，其他调用方照常拿到结果
func (s *Service) ScrapeRatings(ctx context.Context, titleID string, mediaType domain.MediaType, allowed []string) domain.TitleMeta {
	allowed = s.allowList(allowed)
	key := fmt.Sprintf("%s|%s|%s", titleID, mediaType, strings.Join(allowed, ","))
	ch := s.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout())
		defer cancel()
		return s.scrape(fctx, titleID, mediaType, allowed), nil
	})
	select {
	case r := <-ch:
		return r.Val.(domain.TitleMeta).Clone()
	case <-ctx.Done():
		s.Log.Debug().Err(ctx.Err()).Str("title_id", titleID).Msg("调用方已取消，不再等待抓取结果")
		return domain.TitleMeta{}
	}
}

func (s *Service) flightTimeout() time.Duration {
	if s.FlightTimeout > 0 {
		return s.FlightTimeout
	}
	return defaultFlightTimeout
}

func (s *Service) scrape(ctx context.Context, titleID string, mediaType domain.MediaType, allowed []string) (meta domain.TitleMeta) {
	log := s.Log.With().Str("title_id", titleID).Str("type", string(mediaType)).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("增强流程 panic，返回当前元数据")
		}
	}()

	meta = s.Resolver.Resolve(ctx, titleID, mediaType)
	if !meta.HasName() {
		log.Info().Msg("没有作品名称，原样返回")
		return meta
	}

	query := fmt.Sprintf("%s - %s", meta.Name, mediaType)
	ratings := s.Ratings(ctx, titleID, query)
	log.Debug().Int("ratings", ratings.Len()).Msg("评分就绪")
	return s.Apply(ctx, meta, ratings, allowed)
}

// Ratings 返回作品的评分：先探测缓存，未命中再 racing；全部失败时返回空 map。
// racing 中每个成功的分支都会把自己的结果写入缓存。
func (s *Service) Ratings(ctx context.Context, titleID, query string) domain.RatingMap {
	if cached := s.Cache.GetRatings(ctx, titleID, ShortcutKeys); cached.Len() > 0 {
		s.Log.Debug().Str("title_id", titleID).Strs("providers", cached.Keys()).Msg("评分缓存命中，跳过抓取")
		return cached
	}

	m, winner, _, err := provider.Race(ctx, s.Sources, query, provider.RaceOptions{
		Client:   s.Fetch,
		Breakers: s.Breakers,
		Log:      s.Log,
		OnResult: func(ctx context.Context, _ string, m domain.RatingMap) {
			s.Cache.PutRatings(ctx, titleID, m, s.RatingTTL)
		},
		OnSettled: func(attempts []provider.Attempt) {
			for _, a := range attempts {
				if a.Err != nil {
					s.Log.Debug().Str("title_id", titleID).Str("provider", a.Provider).Str("stage", a.Stage).Str("reason", provider.Describe(a.Err)).Msg("分支结束")
				}
			}
		},
	})
	if err != nil {
		s.Log.Warn().Err(err).Str("title_id", titleID).Str("query", query).Msg("所有来源均未取得评分")
		return domain.RatingMap{}
	}
	s.Log.Info().Str("title_id", titleID).Str("provider", winner).Int("ratings", m.Len()).Msg("取得评分")
	return m
}

// Apply 对已有评分执行过滤、描述拼接与海报合成（catalog 的数据库路径直接调用）。
//
// 约束：
// - 每条保留的评分按顺序追加 "(<key，下划线换成空格>: <分数>) " 到描述末尾
// - 有海报且至少保留一条评分时才合成；海报替换为 data: URI
// - 海报下载失败时保留原海报地址
func (s *Service) Apply(ctx context.Context, meta domain.TitleMeta, ratings domain.RatingMap, allowed []string) domain.TitleMeta {
	meta = meta.Clone()
	kept := ratings.Filter(s.allowList(allowed))
	if kept.Len() == 0 {
		return meta
	}

	var b strings.Builder
	b.WriteString(meta.Description)
	for _, r := range kept.All() {
		fmt.Fprintf(&b, "(%s: %s) ", strings.ReplaceAll(r.Source, "_", " "), r.Score)
	}
	meta.Description = b.String()

	if strings.TrimSpace(meta.Poster) == "" || s.Annotator == nil {
		return meta
	}
	raw, _, err := imgx.Load(ctx, s.Images, meta.Poster, s.PosterMaxBytes)
	if err != nil {
		s.Log.Warn().Err(err).Str("title_id", meta.ID).Msg("海报获取失败，保留原地址")
		return meta
	}
	out := s.Annotator.Annotate(raw, kept)
	mime, ok := imgx.Sniff(out)
	if !ok {
		return meta
	}
	meta.Poster = imgx.DataURI(mime, out)
	return meta
}

func (s *Service) allowList(allowed []string) []string {
	if len(allowed) > 0 {
		return allowed
	}
	if len(s.DefaultProviders) > 0 {
		return s.DefaultProviders
	}
	return []string{domain.AllProviders}
}
