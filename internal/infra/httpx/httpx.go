package httpx

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultTimeout        = 20 * time.Second
	defaultAttemptTimeout = 2 * time.Second
	defaultRetryDelay     = 150 * time.Millisecond
)

// Transport 把“UA 池 + 代理 + keep-alive 策略 + 单次超时 + 限速 + 有界重试”固化为统一策略。
//
// 设计目标：fetcher 只负责“定位页面 + 解析 HTML”，不关心网络策略细节。
type Transport struct {
	Base *http.Transport

	ua *uaPool

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int

	// AttemptTimeout 是单次尝试的超时（含读取 body）；<=0 表示不设置。
	AttemptTimeout time.Duration

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool

	// Limiter 可选：按 host 限速。
	Limiter *HostLimiter

	// Proxies 可选：代理轮换。遇到瞬时错误时切换到下一个代理。
	Proxies *ProxyRotator

	retryDelay time.Duration
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && (req.Body == nil || req.Body == http.NoBody)
	max := t.RetryMax
	if max < 0 || !canRetry {
		max = 0
	}
	delay := t.retryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			r, err := t.attempt(req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(req.Context()),
		retry.Attempts(uint(max+1)),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Transport) attempt(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx, req.URL.Host); err != nil {
			return nil, err
		}
	}

	cancel := context.CancelFunc(func() {})
	if t.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.AttemptTimeout)
	}
	var proxy *url.URL
	if t.Proxies != nil {
		if proxy = t.Proxies.Current(); proxy != nil {
			ctx = context.WithValue(ctx, proxyKey{}, proxy)
		}
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(ctx)
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", t.ua.random())
	}
	if t.DisableKeepAlives || proxy != nil {
		r.Close = true
	}

	resp, err := t.Base.RoundTrip(r)
	if err != nil {
		cancel()
		if proxy != nil && IsTransient(err) {
			t.Proxies.Rotate(proxy)
		}
		return nil, err
	}
	// 单次超时覆盖 body 读取：body 关闭时才释放 ctx。
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

type proxyKey struct{}

// proxyFromContext 供 Base.Proxy 使用：代理由 Transport 按请求注入。
func proxyFromContext(fixed *url.URL) func(*http.Request) (*url.URL, error) {
	return func(r *http.Request) (*url.URL, error) {
		if u, ok := r.Context().Value(proxyKey{}).(*url.URL); ok && u != nil {
			return u, nil
		}
		return fixed, nil
	}
}

// Options 描述 client 的网络策略。
type Options struct {
	// ProxyURL 非空：固定代理，禁用 keep-alive。
	ProxyURL string
	// Proxies 非空：代理轮换（优先于“无代理”，但 ProxyURL 仍作为轮换耗尽后的兜底）。
	Proxies *ProxyRotator

	AttemptTimeout time.Duration
	RetryMax       int
	// RatePerSec >0 时启用按 host 限速。
	RatePerSec float64
}

// NewMetaClient 构造用于搜索页面 / 元数据抓取的 HTTP client。
//
// 规则：
// - 走代理（固定或轮换）时禁用 keep-alive（每请求新连接）
// - 内置 UA 池：每个请求随机 UA
// - 单次超时 + 有界重试 + 总超时
func NewMetaClient(opts Options) (*http.Client, error) {
	return newClient(opts)
}

// NewImageClient 构造用于海报下载的 HTTP client：始终直连，单次超时放宽。
func NewImageClient(opts Options) (*http.Client, error) {
	opts.ProxyURL = ""
	opts.Proxies = nil
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 15 * time.Second
	}
	return newClient(opts)
}

func newClient(opts Options) (*http.Client, error) {
	base := &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConnsPerHost:   8,
	}
	disableKeepAlives := false

	var fixed *url.URL
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		fixed = u
	}
	if fixed != nil || opts.Proxies != nil {
		base.Proxy = proxyFromContext(fixed)
	}
	if fixed != nil {
		// 固定代理模式强制每请求新连接（代理池轮换依赖该行为）。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	attempt := opts.AttemptTimeout
	if attempt <= 0 {
		attempt = defaultAttemptTimeout
	}
	retryMax := opts.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	tr := &Transport{
		Base:              base,
		ua:                globalUA,
		RetryMax:          retryMax,
		AttemptTimeout:    attempt,
		DisableKeepAlives: disableKeepAlives,
		Proxies:           opts.Proxies,
	}
	if opts.RatePerSec > 0 {
		tr.Limiter = NewHostLimiter(opts.RatePerSec, 1)
	}

	total := defaultTimeout
	if need := time.Duration(retryMax+1)*attempt + time.Second; need > total {
		total = need
	}
	return &http.Client{
		Transport: tr,
		Timeout:   total,
	}, nil
}

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
