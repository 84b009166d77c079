package imgx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBytes 是单张海报的下载上限。
const DefaultMaxBytes = 10 << 20

// Load 获取海报字节：ref 可以是 http(s) URL 或 data: URI。
//
// 约束：
// - 非 2xx、超过 maxBytes、内容不是 image/* 都返回错误
// - 返回的 MIME 来自内容识别，而不是响应头
func Load(ctx context.Context, c *http.Client, ref string, maxBytes int64) ([]byte, string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	var b []byte
	if IsDataURI(ref) {
		_, data, err := ParseDataURI(ref)
		if err != nil {
			return nil, "", err
		}
		b = data
	} else {
		if c == nil {
			return nil, "", errors.New("http client 不能为空")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := c.Do(req)
		if err != nil {
			return nil, "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, "", fmt.Errorf("海报下载失败：HTTP %d", resp.StatusCode)
		}
		b, err = io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
		if err != nil {
			return nil, "", err
		}
	}
	if int64(len(b)) > maxBytes {
		return nil, "", fmt.Errorf("海报超过 %d 字节", maxBytes)
	}
	mime, ok := Sniff(b)
	if !ok {
		return nil, "", fmt.Errorf("%w：%s", ErrNotImage, mime)
	}
	return b, mime, nil
}
