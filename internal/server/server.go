// Package server 是 addon 协议的 HTTP 前端（manifest / meta / catalog）。
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/ratingmeta/internal/catalog"
	"github.com/John-Robertt/ratingmeta/internal/cinemeta"
	"github.com/John-Robertt/ratingmeta/internal/domain"
)

// MetaService 由 enrich.Service 实现。
type MetaService interface {
	ScrapeRatings(ctx context.Context, titleID string, mediaType domain.MediaType, allowed []string) domain.TitleMeta
}

// CatalogService 由 catalog.Service 实现。
type CatalogService interface {
	Get(ctx context.Context, req catalog.Request) (catalog.Response, error)
}

// Server 持有处理请求所需的依赖。
type Server struct {
	Meta    MetaService
	Catalog CatalogService

	DefaultProviders []string
	RequestTimeout   time.Duration
	Version          string
	Now              func() time.Time
	Log              zerolog.Logger
}

// Handler 构造路由。
//
// 约束：
// - meta/catalog 出错时仍返回 200，body 为 {"meta":{}} / {"metas":[]}，不返回错误页
// - 路由可带 /{providers} 前缀：逗号分隔的来源列表，或 URL 编码的 {"providers":[...]}
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	addon := func(r chi.Router) {
		if s.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(s.RequestTimeout))
		}
		r.Get("/manifest.json", s.handleManifest)
		r.Get("/meta/{type}/{id}", s.handleMeta)
		r.Get("/catalog/{type}/{id}", s.handleCatalog)
		r.Get("/catalog/{type}/{id}/{extra}", s.handleCatalog)
	}
	r.Group(addon)
	r.Route("/{providers}", addon)
	return r
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	v := s.Version
	if v == "" {
		v = "dev"
	}
	writeJSON(w, buildManifest(v, now()))
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	typ, okType := domain.ParseMediaType(chi.URLParam(r, "type"))
	id, okID := jsonSegment(chi.URLParam(r, "id"))
	if !okType || !okID || !strings.HasPrefix(id, "tt") {
		writeJSON(w, map[string]any{"meta": struct{}{}})
		return
	}
	// 剧集的 id 形如 tt123:1:2，评分按作品取。
	id, _, _ = strings.Cut(id, ":")

	meta := s.Meta.ScrapeRatings(r.Context(), id, typ, s.providers(r))
	if meta.ID == "" && !meta.HasName() {
		writeJSON(w, map[string]any{"meta": struct{}{}})
		return
	}
	writeJSON(w, map[string]any{"meta": meta})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	empty := map[string]any{"metas": []any{}}
	typ, okType := domain.ParseMediaType(chi.URLParam(r, "type"))
	if !okType {
		writeJSON(w, empty)
		return
	}
	req := catalog.Request{Type: typ, Providers: s.providers(r)}
	if raw := chi.URLParam(r, "extra"); raw != "" {
		extra, ok := jsonSegment(raw)
		if !ok {
			writeJSON(w, empty)
			return
		}
		req.ID = unescape(chi.URLParam(r, "id"))
		req.Extra = cinemeta.ParseExtra(extra)
	} else {
		id, ok := jsonSegment(chi.URLParam(r, "id"))
		if !ok {
			writeJSON(w, empty)
			return
		}
		req.ID = id
	}

	resp, err := s.Catalog.Get(r.Context(), req)
	if err != nil {
		s.Log.Warn().Err(err).Str("catalog", req.ID).Str("request_id", chimiddleware.GetReqID(r.Context())).Msg("目录请求失败")
		writeJSON(w, empty)
		return
	}
	writeJSON(w, resp)
}

// providers 解析路径前缀中的来源配置；没有前缀时使用默认值。
func (s *Server) providers(r *http.Request) []string {
	raw := unescape(chi.URLParam(r, "providers"))
	if raw == "" {
		return s.DefaultProviders
	}
	if strings.HasPrefix(raw, "{") {
		var cfg struct {
			Providers json.RawMessage `json:"providers"`
		}
		if err := json.Unmarshal([]byte(raw), &cfg); err == nil && len(cfg.Providers) > 0 {
			var list []string
			if json.Unmarshal(cfg.Providers, &list) == nil && len(list) > 0 {
				return list
			}
			var one string
			if json.Unmarshal(cfg.Providers, &one) == nil && one != "" {
				return strings.Split(one, ",")
			}
		}
		return s.DefaultProviders
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return s.DefaultProviders
	}
	return out
}

// jsonSegment 去掉 ".json" 后缀并解码路径片段；没有后缀时 ok=false。
func jsonSegment(seg string) (string, bool) {
	seg = unescape(seg)
	v, ok := strings.CutSuffix(seg, ".json")
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func unescape(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(b)
}
