package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/ratingmeta/internal/cinemeta"
	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/infra/cache"
)

type stubLister struct {
	metas []domain.TitleMeta
	err   error
	calls atomic.Int32
	url   string
}

func (l *stubLister) CatalogPageURL(id string, typ domain.MediaType, e cinemeta.Extra, now time.Time) (string, bool) {
	return (&cinemeta.Client{BaseURL: "https://base", CatalogURL: "https://cat"}).CatalogPageURL(id, typ, e, now)
}

func (l *stubLister) Catalog(ctx context.Context, u string) ([]domain.TitleMeta, error) {
	l.calls.Add(1)
	l.url = u
	return l.metas, l.err
}

type stubEnricher struct {
	mu       sync.Mutex
	scraped  []string
	applied  map[string]domain.RatingMap
	inflight atomic.Int32
	peak     atomic.Int32
}

func (e *stubEnricher) ScrapeRatings(ctx context.Context, id string, typ domain.MediaType, allowed []string) domain.TitleMeta {
	cur := e.inflight.Add(1)
	defer e.inflight.Add(-1)
	for {
		p := e.peak.Load()
		if cur <= p || e.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	e.mu.Lock()
	e.scraped = append(e.scraped, id)
	e.mu.Unlock()
	if id == "tt-unknown" {
		return domain.TitleMeta{}
	}
	return domain.TitleMeta{ID: id, Type: string(typ), Name: "scraped " + id}
}

func (e *stubEnricher) Apply(ctx context.Context, meta domain.TitleMeta, ratings domain.RatingMap, allowed []string) domain.TitleMeta {
	e.mu.Lock()
	if e.applied == nil {
		e.applied = map[string]domain.RatingMap{}
	}
	e.applied[meta.ID] = ratings
	e.mu.Unlock()
	meta.Description = "db"
	return meta
}

// cancelingEnricher 模拟请求在增强途中结束：设置了 cancel 时先取消再返回零值。
type cancelingEnricher struct {
	cancel context.CancelFunc
}

func (e *cancelingEnricher) ScrapeRatings(ctx context.Context, id string, typ domain.MediaType, allowed []string) domain.TitleMeta {
	if e.cancel != nil {
		e.cancel()
		return domain.TitleMeta{}
	}
	return domain.TitleMeta{ID: id, Type: string(typ), Name: id, Description: "enriched"}
}

func (e *cancelingEnricher) Apply(ctx context.Context, meta domain.TitleMeta, ratings domain.RatingMap, allowed []string) domain.TitleMeta {
	return meta
}

type stubDB struct {
	got []string
	err error
}

func (d *stubDB) ForTitles(ctx context.Context, ids []string) (map[string]domain.RatingMap, error) {
	d.got = ids
	if d.err != nil {
		return nil, d.err
	}
	return map[string]domain.RatingMap{"tt1": domain.NewRatingMap(domain.Rating{Source: "imdb", Score: "8"})}, nil
}

func metas(ids ...string) []domain.TitleMeta {
	out := make([]domain.TitleMeta, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.TitleMeta{ID: id, Type: "movie", Name: id})
	}
	return out
}

func TestGet_ScrapePathPreservesOrderAndBoundsConcurrency(t *testing.T) {
	ids := []string{"tt1", "tt2", "tt3", "tt4", "tt5", "tt6", "tt7"}
	l := &stubLister{metas: metas(ids...)}
	e := &stubEnricher{}
	s := &Service{Lister: l, Enricher: e, Concurrency: 2, Log: zerolog.Nop()}

	resp, err := s.Get(context.Background(), Request{ID: cinemeta.CatalogTrending, Type: domain.MediaMovie, Extra: cinemeta.Extra{Genre: "Action"}})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(resp.Metas) != len(ids) {
		t.Fatalf("期望 %d 条，实际 %d", len(ids), len(resp.Metas))
	}
	for i, m := range resp.Metas {
		if m.ID != ids[i] || m.Name != "scraped "+ids[i] {
			t.Fatalf("第 %d 条顺序/内容不符合预期：%+v", i, m)
		}
	}
	if p := e.peak.Load(); p > 2 {
		t.Fatalf("并发应受限于 2，实际峰值 %d", p)
	}
	if !strings.HasPrefix(l.url, "https://cat/top/catalog/movie/top/genre=Action") {
		t.Fatalf("目录地址不符合预期：%q", l.url)
	}
}

func TestGet_ScrapeFailureKeepsCatalogEntry(t *testing.T) {
	l := &stubLister{metas: metas("tt-unknown")}
	s := &Service{Lister: l, Enricher: &stubEnricher{}, Log: zerolog.Nop()}

	resp, err := s.Get(context.Background(), Request{ID: cinemeta.CatalogFeatured, Type: domain.MediaMovie})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if resp.Metas[0].ID != "tt-unknown" || resp.Metas[0].Name != "tt-unknown" {
		t.Fatalf("应保留原条目：%+v", resp.Metas[0])
	}
}

func TestGet_DatabasePathSkipsScraping(t *testing.T) {
	l := &stubLister{metas: metas("tt1", "tt2")}
	e := &stubEnricher{}
	db := &stubDB{}
	s := &Service{Lister: l, Enricher: e, DB: db, Log: zerolog.Nop()}

	resp, err := s.Get(context.Background(), Request{ID: cinemeta.CatalogBestYoY, Type: domain.MediaSeries, Extra: cinemeta.Extra{Genre: "2020"}})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(e.scraped) != 0 {
		t.Fatalf("数据库路径不应抓取：%v", e.scraped)
	}
	if len(db.got) != 2 || db.got[0] != "tt1" {
		t.Fatalf("应一次性查询全部 id：%v", db.got)
	}
	if e.applied["tt1"].Len() != 1 || e.applied["tt2"].Len() != 0 {
		t.Fatalf("评分分配不符合预期：%v", e.applied)
	}
	if resp.Metas[0].Description != "db" || resp.Metas[1].ID != "tt2" {
		t.Fatalf("结果不符合预期：%+v", resp.Metas)
	}
}

func TestGet_DatabaseErrorDegrades(t *testing.T) {
	l := &stubLister{metas: metas("tt1")}
	e := &stubEnricher{}
	s := &Service{Lister: l, Enricher: e, DB: &stubDB{err: errors.New("down")}, Log: zerolog.Nop()}

	resp, err := s.Get(context.Background(), Request{ID: cinemeta.CatalogTrending, Type: domain.MediaMovie})
	if err != nil {
		t.Fatalf("数据库失败不应导致目录失败：%v", err)
	}
	if len(resp.Metas) != 1 || e.applied["tt1"].Len() != 0 {
		t.Fatalf("应不附加评分：%v", e.applied)
	}
}

func TestGet_CachesResponse(t *testing.T) {
	l := &stubLister{metas: metas("tt1")}
	s := &Service{
		Lister:   l,
		Enricher: &stubEnricher{},
		Cache:    cache.New(cache.NewMemory(), zerolog.Nop()),
		Log:      zerolog.Nop(),
	}
	req := Request{ID: cinemeta.CatalogSearch, Type: domain.MediaMovie, Extra: cinemeta.Extra{Search: "heat"}}
	for i := 0; i < 3; i++ {
		resp, err := s.Get(context.Background(), req)
		if err != nil || len(resp.Metas) != 1 || resp.Metas[0].ID != "tt1" {
			t.Fatalf("第 %d 次：结果不符合预期 %+v %v", i, resp, err)
		}
	}
	if l.calls.Load() != 1 {
		t.Fatalf("缓存命中后不应再请求上游，实际 %d 次", l.calls.Load())
	}

	other := req
	other.Type = domain.MediaSeries
	if _, _ = s.Get(context.Background(), other); l.calls.Load() != 2 {
		t.Fatalf("不同类型应使用不同缓存 key")
	}
}

func TestGet_CancelledRequestIsNotCached(t *testing.T) {
	l := &stubLister{metas: metas("tt1")}
	e := &cancelingEnricher{}
	s := &Service{
		Lister:   l,
		Enricher: e,
		Cache:    cache.New(cache.NewMemory(), zerolog.Nop()),
		Log:      zerolog.Nop(),
	}
	req := Request{ID: cinemeta.CatalogTrending, Type: domain.MediaMovie}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.cancel = cancel
	resp, err := s.Get(ctx, req)
	if err != nil || len(resp.Metas) != 1 || resp.Metas[0].Description != "" {
		t.Fatalf("取消的请求应返回未增强的条目：%+v %v", resp, err)
	}

	e.cancel = nil
	resp, err = s.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(resp.Metas) != 1 || resp.Metas[0].Description != "enriched" {
		t.Fatalf("后续请求不应拿到未增强的缓存页：%+v", resp.Metas)
	}
	if l.calls.Load() != 2 {
		t.Fatalf("取消的页面不应写入缓存，期望上游请求 2 次，实际 %d", l.calls.Load())
	}
}

func TestGet_UnknownCatalogAndUpstreamError(t *testing.T) {
	l := &stubLister{err: errors.New("502")}
	s := &Service{Lister: l, Enricher: &stubEnricher{}, Log: zerolog.Nop()}

	resp, err := s.Get(context.Background(), Request{ID: "nope", Type: domain.MediaMovie})
	if err != nil || resp.Metas == nil || len(resp.Metas) != 0 {
		t.Fatalf("未知目录应返回空列表：%+v %v", resp, err)
	}
	if l.calls.Load() != 0 {
		t.Fatalf("未知目录不应请求上游")
	}
	if _, err := s.Get(context.Background(), Request{ID: cinemeta.CatalogTrending, Type: domain.MediaMovie}); err == nil {
		t.Fatalf("上游失败应返回错误")
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(Request{ID: "trending", Type: domain.MediaMovie, Extra: cinemeta.Extra{Genre: "Action"}})
	b := CacheKey(Request{ID: "trending", Type: domain.MediaMovie, Extra: cinemeta.Extra{Genre: "Drama"}})
	if !strings.HasPrefix(a, "catalog:trending:") || len(a) != len("catalog:trending:")+16 {
		t.Fatalf("key 形式不符合预期：%q", a)
	}
	if a == b {
		t.Fatalf("不同 extra 应得到不同 key")
	}
}
