package httpx

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProxyRotator 维护一个从文本列表加载的代理池。
//
// 约束：
// - 列表每行一个代理（host:port 或完整 URL），最多保留 Limit 个
// - 遇到瞬时错误时切换到下一个；整个列表用尽后停用代理（直连），直到下次刷新
// - 并发安全
type ProxyRotator struct {
	ListURL string
	Limit   int
	Client  *http.Client
	Log     zerolog.Logger

	mu       sync.Mutex
	proxies  []*url.URL
	idx      int
	disabled bool
}

// NewProxyRotator 构造代理池；调用 Refresh 之前 Current 返回 nil。
func NewProxyRotator(listURL string, limit int, client *http.Client, log zerolog.Logger) *ProxyRotator {
	if limit < 1 {
		limit = 100
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ProxyRotator{ListURL: listURL, Limit: limit, Client: client, Log: log}
}

// Current 返回当前代理；池为空或已停用时返回 nil（直连）。
func (p *ProxyRotator) Current() *url.URL {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled || len(p.proxies) == 0 {
		return nil
	}
	return p.proxies[p.idx]
}

// Rotate 在 failed 仍是当前代理时前进一位；并发请求重复上报同一个失败代理只会前进一次。
func (p *ProxyRotator) Rotate(failed *url.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled || len(p.proxies) == 0 {
		return
	}
	if failed != nil && p.proxies[p.idx].String() != failed.String() {
		return
	}
	p.idx++
	if p.idx >= len(p.proxies) {
		p.idx = 0
		p.disabled = true
		p.Log.Warn().Int("proxies", len(p.proxies)).Msg("代理列表已用尽，改为直连")
		return
	}
	p.Log.Debug().Str("proxy", p.proxies[p.idx].Host).Msg("切换代理")
}

// Set 直接替换代理池（重新启用轮换）。
func (p *ProxyRotator) Set(proxies []*url.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(proxies) > p.Limit {
		proxies = proxies[:p.Limit]
	}
	p.proxies = proxies
	p.idx = 0
	p.disabled = len(proxies) == 0
}

// Refresh 下载并替换代理列表。失败时保留旧列表。
func (p *ProxyRotator) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ListURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("代理列表 HTTP %d", resp.StatusCode)
	}
	list, err := ParseProxyList(io.LimitReader(resp.Body, 1<<20), p.Limit)
	if err != nil {
		return err
	}
	p.Set(list)
	p.Log.Info().Int("proxies", len(list)).Msg("代理列表已刷新")
	return nil
}

// Run 立即刷新一次，然后按 every 周期刷新，直到 ctx 结束。
func (p *ProxyRotator) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	refresh := func() {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.Log.Warn().Err(err).Msg("刷新代理列表失败")
		}
	}
	refresh()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			refresh()
		}
	}
}

// ParseProxyList 解析“每行一个代理”的文本；空行与 # 注释被忽略，无 scheme 时按 http:// 处理。
func ParseProxyList(r io.Reader, limit int) ([]*url.URL, error) {
	var out []*url.URL
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = "http://" + line
		}
		u, err := url.Parse(line)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, sc.Err()
}
