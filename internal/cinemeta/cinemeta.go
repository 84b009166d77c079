// Package cinemeta 访问 Cinemeta 元数据服务（单个作品元数据与目录列表）。
package cinemeta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/ratingmeta/internal/domain"
)

const (
	DefaultBaseURL    = "https://v3-cinemeta.strem.io"
	DefaultCatalogURL = "https://cinemeta-catalogs.strem.io"

	maxBodyBytes = 8 << 20
)

// Client 是 Cinemeta 的只读客户端。零值可用（使用默认地址与 http.DefaultClient）。
type Client struct {
	BaseURL    string
	CatalogURL string
	HTTP       *http.Client
	Log        zerolog.Logger
}

func (c *Client) baseURL() string    { return trimBase(c.BaseURL, DefaultBaseURL) }
func (c *Client) catalogURL() string { return trimBase(c.CatalogURL, DefaultCatalogURL) }

func trimBase(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Resolve 获取单个作品的元数据：GET {base}/meta/{type}/{id}.json。
//
// 约束：
// - 任何失败（网络/状态码/JSON）都只记录日志，返回零值 TitleMeta
// - 调用方通过 HasName() 判断是否可继续
func (c *Client) Resolve(ctx context.Context, id string, typ domain.MediaType) domain.TitleMeta {
	m, err := c.Meta(ctx, id, typ)
	if err != nil {
		c.Log.Warn().Err(err).Str("title_id", id).Str("type", string(typ)).Msg("获取元数据失败")
		return domain.TitleMeta{}
	}
	return m
}

// Meta 与 Resolve 相同，但返回错误。
func (c *Client) Meta(ctx context.Context, id string, typ domain.MediaType) (domain.TitleMeta, error) {
	if strings.TrimSpace(id) == "" {
		return domain.TitleMeta{}, errors.New("id 不能为空")
	}
	u := fmt.Sprintf("%s/meta/%s/%s.json", c.baseURL(), url.PathEscape(string(typ)), url.PathEscape(id))
	var resp struct {
		Meta *domain.TitleMeta `json:"meta"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return domain.TitleMeta{}, err
	}
	if resp.Meta == nil {
		return domain.TitleMeta{}, errors.New("响应缺少 meta")
	}
	return *resp.Meta, nil
}

// Catalog 获取一个目录页（{"metas":[...]}）。u 由 CatalogPageURL 构造。
func (c *Client) Catalog(ctx context.Context, u string) ([]domain.TitleMeta, error) {
	var resp struct {
		Metas []domain.TitleMeta `json:"metas"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Metas, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &StatusError{URL: u, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("解析 %s 失败：%w", u, err)
	}
	return nil
}

// StatusError 表示 Cinemeta 返回了非 2xx。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cinemeta: HTTP %d: %s", e.StatusCode, e.URL)
}
