package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/John-Robertt/ratingmeta/internal/config"
	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/logging"
	"github.com/John-Robertt/ratingmeta/internal/server"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "serve":
		code = serveCmd(args[1:])
	case "scrape":
		code = scrapeCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

func serveCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printServeUsage()
			return 0
		}
	}
	sa, err := parseServeArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printServeUsage()
		return 2
	}

	cfg, code := loadConfig(sa.ConfigPath)
	if code != 0 {
		return code
	}
	defer func() { _ = logging.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败（%s）：%v\n", config.Code(err), err)
		return 1
	}
	defer a.Close()
	a.runBackground(ctx)

	srv := a.httpServer((&server.Server{
		Meta:             a.enrich,
		Catalog:          a.catalog,
		DefaultProviders: cfg.Ratings.Providers,
		RequestTimeout:   cfg.Server.RequestTimeout,
		Version:          version,
		Log:              logging.With("http"),
	}).Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.Info().Str("addr", srv.Addr).Str("manifest", "http://"+srv.Addr+"/manifest.json").Msg("服务已启动")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("服务异常退出")
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("关闭服务超时")
		return 1
	}
	a.log.Info().Msg("服务已停止")
	return 0
}

func scrapeCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printScrapeUsage()
			return 0
		}
	}
	sa, err := parseScrapeArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printScrapeUsage()
		return 2
	}

	cfg, code := loadConfig(sa.ConfigPath)
	if code != 0 {
		return code
	}
	defer func() { _ = logging.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败（%s）：%v\n", config.Code(err), err)
		return 1
	}
	defer a.Close()
	a.cache.ReadOnly = sa.NoCacheWrite

	meta := a.enrich.ScrapeRatings(ctx, sa.ID, sa.Type, sa.Providers)
	if sa.NoPoster {
		meta.Poster = ""
	}
	emitMeta(os.Stdout, os.Stderr, isTTY(os.Stdout), meta)
	if !meta.HasName() {
		return 1
	}
	return 0
}

// loadConfig 读取配置并初始化日志；返回非 0 表示应直接退出。
func loadConfig(path string) (config.Config, int) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误（%s）：%v\n", config.Code(err), err)
		return config.Config{}, 1
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	return cfg, 0
}

type serveArgs struct {
	ConfigPath string
}

func parseServeArgs(args []string) (serveArgs, error) {
	sa := serveArgs{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--config":
			if i+1 >= len(args) {
				return serveArgs{}, fmt.Errorf("--config 需要一个值")
			}
			i++
			sa.ConfigPath = args[i]
		case strings.HasPrefix(a, "--config="):
			sa.ConfigPath = strings.TrimPrefix(a, "--config=")
		default:
			return serveArgs{}, fmt.Errorf("未知参数 %q", a)
		}
	}
	return sa, nil
}

type scrapeArgs struct {
	ID         string
	Type       domain.MediaType
	Providers  []string
	ConfigPath string
	NoPoster   bool
	// NoCacheWrite 只读缓存：命中照用，新抓到的评分不写回。
	NoCacheWrite bool
}

func parseScrapeArgs(args []string) (scrapeArgs, error) {
	sa := scrapeArgs{}
	var positional []string

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--providers":
			if i+1 >= len(args) {
				return scrapeArgs{}, fmt.Errorf("--providers 需要一个值")
			}
			i++
			sa.Providers = splitList(args[i])
		case strings.HasPrefix(a, "--providers="):
			sa.Providers = splitList(strings.TrimPrefix(a, "--providers="))
		case a == "--config":
			if i+1 >= len(args) {
				return scrapeArgs{}, fmt.Errorf("--config 需要一个值")
			}
			i++
			sa.ConfigPath = args[i]
		case strings.HasPrefix(a, "--config="):
			sa.ConfigPath = strings.TrimPrefix(a, "--config=")
		case a == "--no-poster":
			sa.NoPoster = true
		case a == "--no-cache-write":
			sa.NoCacheWrite = true
		case strings.HasPrefix(a, "-"):
			return scrapeArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			positional = append(positional, a)
		}
	}

	if len(positional) != 2 {
		return scrapeArgs{}, fmt.Errorf("需要 <id> 与 <type> 两个参数，实际 %d 个", len(positional))
	}
	sa.ID = strings.TrimSpace(positional[0])
	if !strings.HasPrefix(sa.ID, "tt") {
		return scrapeArgs{}, fmt.Errorf("id 必须是 IMDb id（tt 开头），实际是 %q", sa.ID)
	}
	typ, ok := domain.ParseMediaType(positional[1])
	if !ok {
		return scrapeArgs{}, fmt.Errorf("type 只能是 movie 或 series，实际是 %q", positional[1])
	}
	sa.Type = typ
	if sa.Providers != nil && len(sa.Providers) == 0 {
		return scrapeArgs{}, fmt.Errorf("--providers 不能为空")
	}
	return sa, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// emitMeta：stdout 是 TTY 时输出可读摘要；否则 stdout 只输出一个 JSON（摘要走 stderr）。
func emitMeta(stdout, stderr io.Writer, tty bool, meta domain.TitleMeta) {
	summary := func(w io.Writer) {
		if !meta.HasName() {
			fmt.Fprintln(w, "未找到作品元数据")
			return
		}
		fmt.Fprintf(w, "%s (%s)\n", meta.Name, meta.ID)
		fmt.Fprintf(w, "  description: %s\n", meta.Description)
		switch {
		case meta.Poster == "":
			fmt.Fprintln(w, "  poster: -")
		case strings.HasPrefix(meta.Poster, "data:"):
			fmt.Fprintf(w, "  poster: 已合成（%d 字节 data URI）\n", len(meta.Poster))
		default:
			fmt.Fprintf(w, "  poster: %s\n", meta.Poster)
		}
	}
	if tty {
		summary(stdout)
		return
	}
	enc := json.NewEncoder(stdout)
	_ = enc.Encode(map[string]any{"meta": meta})
	summary(stderr)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  ratingmeta serve [--config path]
  ratingmeta scrape <id> <movie|series> [--providers a,b] [--no-poster] [--no-cache-write] [--config path]

命令：
  serve   启动 addon HTTP 服务（manifest / meta / catalog / metrics）
  scrape  对单个作品执行一次评分增强并输出结果

使用 "ratingmeta <命令> --help" 查看详细说明。
`)
}

func printServeUsage() {
	fmt.Fprint(os.Stdout, `用法：
  ratingmeta serve [--config path]

参数：
  --config    配置文件（yaml/json）；未指定时读 CONFIG_PATH 或当前目录的 ratingmeta.yaml
  -h, --help  显示帮助
`)
}

func printScrapeUsage() {
	fmt.Fprint(os.Stdout, `用法：
  ratingmeta scrape <id> <movie|series> [--providers a,b] [--no-poster] [--no-cache-write] [--config path]

参数：
  --providers  allow-list（逗号分隔，"all" 不过滤；未指定则使用配置 ratings.providers）
  --no-poster  输出中省略海报（海报 data URI 可能很大）
  --no-cache-write  只读缓存，不写回新抓到的评分
  --config     配置文件（同 serve）
  -h, --help   显示帮助
`)
}
