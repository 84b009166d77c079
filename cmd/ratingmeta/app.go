package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/ratingmeta/internal/app/enrich"
	"github.com/John-Robertt/ratingmeta/internal/catalog"
	"github.com/John-Robertt/ratingmeta/internal/cinemeta"
	"github.com/John-Robertt/ratingmeta/internal/config"
	"github.com/John-Robertt/ratingmeta/internal/infra/cache"
	"github.com/John-Robertt/ratingmeta/internal/infra/httpx"
	"github.com/John-Robertt/ratingmeta/internal/logging"
	"github.com/John-Robertt/ratingmeta/internal/poster"
	"github.com/John-Robertt/ratingmeta/internal/provider"
	"github.com/John-Robertt/ratingmeta/internal/provider/bing"
	"github.com/John-Robertt/ratingmeta/internal/provider/google"
	"github.com/John-Robertt/ratingmeta/internal/provider/yahoo"
	"github.com/John-Robertt/ratingmeta/internal/repository"
)

// app 持有进程内的全部长生命周期句柄；Close 负责按相反顺序释放。
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	cache   *cache.Store
	db      *repository.Ratings
	proxies *httpx.ProxyRotator

	enrich  *enrich.Service
	catalog *catalog.Service
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logging.Logger()
	a := &app{cfg: cfg, log: log}

	store, err := openCache(ctx, cfg.Cache, logging.With("cache"))
	if err != nil {
		return nil, err
	}
	a.cache = store

	if cfg.Network.UseProxy && strings.TrimSpace(cfg.Network.ProxyListURL) != "" {
		a.proxies = httpx.NewProxyRotator(cfg.Network.ProxyListURL, cfg.Network.ProxyListLimit, nil, logging.With("proxy"))
		if err := a.proxies.Refresh(ctx); err != nil {
			// 代理列表不可用时直连，后台刷新会继续尝试。
			log.Warn().Err(err).Msg("获取代理列表失败，先直连")
		}
	}

	fetch, err := httpx.NewMetaClient(httpx.Options{
		Proxies:        a.proxies,
		AttemptTimeout: cfg.Network.AttemptTimeout,
		RetryMax:       cfg.Network.RetryMax,
		RatePerSec:     cfg.Network.HostRatePerSec,
	})
	if err != nil {
		a.Close()
		return nil, &config.Error{Code: config.ErrCodeInvalid, Err: err}
	}
	images, err := httpx.NewImageClient(httpx.Options{RetryMax: cfg.Network.RetryMax})
	if err != nil {
		a.Close()
		return nil, &config.Error{Code: config.ErrCodeInvalid, Err: err}
	}

	reg, err := provider.NewRegistry(google.Source{}, bing.Source{}, yahoo.Source{})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("初始化 source registry 失败：%w", err)
	}

	ann, err := poster.NewAnnotator(logging.With("poster"))
	if err != nil {
		a.Close()
		return nil, err
	}

	meta := &cinemeta.Client{
		BaseURL:    cfg.Cinemeta.BaseURL,
		CatalogURL: cfg.Cinemeta.CatalogURL,
		HTTP:       images,
		Log:        logging.With("cinemeta"),
	}

	a.enrich = &enrich.Service{
		Resolver:         meta,
		Sources:          reg,
		Breakers:         provider.NewBreakers(provider.BreakerSettings{Failures: uint32(cfg.Network.BreakerFailures), OpenTimeout: cfg.Network.BreakerOpenDelay}),
		Cache:            a.cache,
		Annotator:        ann,
		Fetch:            fetch,
		Images:           images,
		RatingTTL:        cfg.Cache.RatingTTL,
		PosterMaxBytes:   cfg.Network.PosterMaxBytes,
		DefaultProviders: cfg.Ratings.Providers,
		FlightTimeout:    cfg.Server.RequestTimeout,
		Log:              logging.With("enrich"),
	}

	a.catalog = &catalog.Service{
		Lister:      meta,
		Enricher:    a.enrich,
		Cache:       a.cache,
		TTL:         cfg.Cache.CatalogTTL,
		Concurrency: cfg.Catalog.Concurrency,
		Log:         logging.With("catalog"),
	}
	if strings.TrimSpace(cfg.Database.URL) != "" {
		db, err := repository.Open(ctx, cfg.Database.URL)
		if err != nil {
			// 数据库不可用时目录退回抓取路径。
			log.Warn().Err(err).Msg("数据库不可用，目录评分改为实时抓取")
		} else {
			a.db = db
			a.catalog.DB = db
		}
	}
	return a, nil
}

// openCache 按 Redis > 目录 > 内存 的优先级选择后端；都未配置时返回禁用的 Store。
func openCache(ctx context.Context, c config.CacheConfig, log zerolog.Logger) (*cache.Store, error) {
	switch {
	case strings.TrimSpace(c.RedisURL) != "":
		b, err := cache.OpenRedis(ctx, c.RedisURL)
		if err != nil {
			// Redis 不可用不阻止启动：没有缓存只是更慢。
			log.Warn().Err(err).Msg("连接 Redis 失败，缓存关闭")
			return cache.New(nil, log), nil
		}
		return cache.New(b, log), nil
	case strings.TrimSpace(c.Dir) != "":
		b, err := cache.OpenFile(c.Dir)
		if err != nil {
			return nil, &config.Error{Code: config.ErrCodeInvalid, Path: c.Dir, Err: err}
		}
		return cache.New(b, log), nil
	case c.Memory:
		return cache.New(cache.NewMemory(), log), nil
	default:
		return cache.New(nil, log), nil
	}
}

// runBackground 启动后台任务（代理列表刷新），随 ctx 结束。
func (a *app) runBackground(ctx context.Context) {
	if a.proxies != nil {
		go a.proxies.Run(ctx, a.cfg.Network.ProxyRefresh)
	}
}

func (a *app) Close() {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn().Err(err).Msg("释放资源失败")
	}
}

// httpServer 构造带超时的 http.Server。
func (a *app) httpServer(h http.Handler) *http.Server {
	return &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
