package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/John-Robertt/ratingmeta/internal/metrics"
)

// requestID 在进入 chi 的 RequestID 之前补一个 UUID，使日志与响应头使用同一个 id。
func (s *Server) requestID(next http.Handler) http.Handler {
	chiRequestID := chimiddleware.RequestID(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimiddleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(chimiddleware.RequestIDHeader, id)
		}
		w.Header().Set(chimiddleware.RequestIDHeader, id)
		chiRequestID.ServeHTTP(w, r)
	})
}

// cors 允许任意来源读取（addon 由客户端跨域调用）。
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		next.ServeHTTP(w, r)
	})
}

// observe 记录每个请求的路由模板、状态码与耗时。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		dur := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(dur.Seconds())
		s.Log.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", dur).
			Msg("request")
	})
}
