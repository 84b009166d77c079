package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

// maxPageBytes 限制单个搜索结果页的读取大小。
const maxPageBytes = 4 << 20

// BlockDetector 根据最终 URL 与 body 判断是否落在拦截页；返回非空 reason 表示被拦截。
type BlockDetector func(finalURL string, body []byte) string

// FetchPage 以 GET 获取搜索结果页。
//
// 约束：
// - 429 视为被拦截（BlockedError{Reason:"rate-limited"}）
// - 其它非 2xx 返回 HTTPStatusError
// - detect 非空且命中时返回 BlockedError
func FetchPage(ctx context.Context, c *http.Client, u string, detect BlockDetector) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &BlockedError{URL: u, Reason: "rate-limited"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}
	final := u
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	if detect != nil {
		if reason := strings.TrimSpace(detect(final, b)); reason != "" {
			return nil, &BlockedError{URL: final, Reason: reason}
		}
	}
	if len(b) == 0 {
		return nil, errors.New("empty response body")
	}
	return b, nil
}
