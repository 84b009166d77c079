package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/ratingmeta/internal/catalog"
	"github.com/John-Robertt/ratingmeta/internal/domain"
)

type metaCall struct {
	id      string
	typ     domain.MediaType
	allowed []string
}

type stubMeta struct {
	mu    sync.Mutex
	calls []metaCall
}

func (m *stubMeta) ScrapeRatings(ctx context.Context, id string, typ domain.MediaType, allowed []string) domain.TitleMeta {
	m.mu.Lock()
	m.calls = append(m.calls, metaCall{id, typ, allowed})
	m.mu.Unlock()
	if id == "tt404" {
		return domain.TitleMeta{}
	}
	return domain.TitleMeta{ID: id, Type: string(typ), Name: "Heat", Description: "(imdb: 8.3) "}
}

type stubCatalog struct {
	got catalog.Request
	err error
}

func (c *stubCatalog) Get(ctx context.Context, req catalog.Request) (catalog.Response, error) {
	c.got = req
	if c.err != nil {
		return catalog.Response{}, c.err
	}
	return catalog.Response{Metas: []domain.TitleMeta{{ID: "tt1", Name: "A"}}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubMeta, *stubCatalog) {
	t.Helper()
	m := &stubMeta{}
	c := &stubCatalog{}
	s := &Server{
		Meta:             m,
		Catalog:          c,
		DefaultProviders: []string{"all"},
		RequestTimeout:   5 * time.Second,
		Now:              func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
		Log:              zerolog.Nop(),
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, m, c
}

func get(t *testing.T, srv *httptest.Server, path string) (int, http.Header, string) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("请求 %s 失败：%v", path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header, string(b)
}

func TestMeta_DefaultAndPrefixedProviders(t *testing.T) {
	srv, m, _ := newTestServer(t)

	code, h, body := get(t, srv, "/meta/movie/tt0113277.json")
	if code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", code)
	}
	if h.Get("X-Request-Id") == "" {
		t.Fatalf("响应应带 request id")
	}
	var out struct {
		Meta domain.TitleMeta `json:"meta"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil || out.Meta.Name != "Heat" {
		t.Fatalf("响应不符合预期：%s %v", body, err)
	}

	get(t, srv, "/imdb,rotten_tomatoes/meta/series/tt0944947:1:2.json")
	get(t, srv, "/%7B%22providers%22%3A%5B%22metacritic%22%5D%7D/meta/movie/tt1.json")

	if len(m.calls) != 3 {
		t.Fatalf("期望 3 次调用，实际 %d", len(m.calls))
	}
	if c := m.calls[0]; c.id != "tt0113277" || c.typ != domain.MediaMovie || len(c.allowed) != 1 || c.allowed[0] != "all" {
		t.Fatalf("默认调用不符合预期：%+v", c)
	}
	if c := m.calls[1]; c.id != "tt0944947" || c.typ != domain.MediaSeries || len(c.allowed) != 2 || c.allowed[1] != "rotten_tomatoes" {
		t.Fatalf("前缀调用不符合预期：%+v", c)
	}
	if c := m.calls[2]; len(c.allowed) != 1 || c.allowed[0] != "metacritic" {
		t.Fatalf("JSON 配置前缀不符合预期：%+v", c)
	}
}

func TestMeta_InvalidRequestsYieldEmptyMeta(t *testing.T) {
	srv, m, _ := newTestServer(t)
	for _, p := range []string{"/meta/anime/tt1.json", "/meta/movie/kitsu:1.json", "/meta/movie/tt1", "/meta/movie/tt404.json"} {
		code, _, body := get(t, srv, p)
		if code != http.StatusOK || strings.TrimSpace(body) != `{"meta":{}}` {
			t.Fatalf("%s：期望 200 + 空 meta，实际 %d %s", p, code, body)
		}
	}
	if len(m.calls) != 1 {
		t.Fatalf("只有合法请求才应调用增强，实际 %d 次", len(m.calls))
	}
}

func TestCatalog_RoutesAndErrors(t *testing.T) {
	srv, _, c := newTestServer(t)

	code, _, body := get(t, srv, "/catalog/movie/trending/genre=Sci-Fi&skip=20.json")
	if code != http.StatusOK || !strings.Contains(body, `"tt1"`) {
		t.Fatalf("目录响应不符合预期：%d %s", code, body)
	}
	if c.got.ID != "trending" || c.got.Type != domain.MediaMovie || c.got.Extra.Genre != "Sci-Fi" || c.got.Extra.Skip != 20 {
		t.Fatalf("目录请求解析不符合预期：%+v", c.got)
	}

	get(t, srv, "/imdb/catalog/series/featured.json")
	if c.got.ID != "featured" || c.got.Type != domain.MediaSeries || c.got.Providers[0] != "imdb" {
		t.Fatalf("前缀目录请求不符合预期：%+v", c.got)
	}

	c.err = errors.New("upstream down")
	code, _, body = get(t, srv, "/catalog/movie/search/search=heat.json")
	if code != http.StatusOK || strings.TrimSpace(body) != `{"metas":[]}` {
		t.Fatalf("失败时期望空列表，实际 %d %s", code, body)
	}
}

func TestManifest(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, h, body := get(t, srv, "/manifest.json")
	if code != http.StatusOK || !strings.HasPrefix(h.Get("Content-Type"), "application/json") {
		t.Fatalf("manifest 响应不符合预期：%d %v", code, h)
	}
	if h.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("应允许跨域")
	}
	var m manifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("manifest 不是合法 JSON：%v", err)
	}
	if len(m.Catalogs) != 8 || m.IDPrefixes[0] != "tt" {
		t.Fatalf("manifest 内容不符合预期：%+v", m)
	}
	for _, c := range m.Catalogs {
		if c.ID == "best_yoy" && (c.Extra[0].Options[0] != "2026" || c.Extra[0].Options[len(c.Extra[0].Options)-1] != "2000") {
			t.Fatalf("年份选项不符合预期：%v", c.Extra[0].Options)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if code, _, body := get(t, srv, "/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz 不符合预期：%d %s", code, body)
	}
	get(t, srv, "/meta/movie/tt1.json")
	code, _, body := get(t, srv, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "ratingmeta_http_requests_total") {
		t.Fatalf("metrics 应包含请求计数")
	}
}
