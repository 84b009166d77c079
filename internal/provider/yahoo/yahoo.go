package yahoo

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/ratingmeta/internal/domain"
	providerx "github.com/John-Robertt/ratingmeta/internal/provider"
)

// Source 只提取 Yahoo 结果页上的 Rotten Tomatoes 分数（span.rottenTomatoes）。
type Source struct {
	// BaseURL 为空时使用 https://search.yahoo.com。
	BaseURL string
}

func (Source) Name() string { return "yahoo" }

func (s Source) baseURL() string {
	u := strings.TrimSpace(s.BaseURL)
	if u == "" {
		return "https://search.yahoo.com"
	}
	return strings.TrimRight(u, "/")
}

// Fetch 请求 https://search.yahoo.com/search?p=<query>。
func (s Source) Fetch(ctx context.Context, query string, c *http.Client) ([]byte, string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, "", errors.New("query 不能为空")
	}
	pageURL := s.baseURL() + "/search?p=" + url.QueryEscape(query)
	b, err := providerx.FetchPage(ctx, c, pageURL, detectBlocked)
	return b, pageURL, err
}

// Parse 至多返回一条 rotten_tomatoes；没有该元素时返回空 map（不是错误）。
func (Source) Parse(html []byte) (domain.RatingMap, error) {
	if len(html) == 0 {
		return domain.RatingMap{}, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.RatingMap{}, err
	}

	var m domain.RatingMap
	if span := doc.Find("span.rottenTomatoes").First(); span.Length() > 0 {
		m.Set("rotten_tomatoes", domain.NormalizeScore(span.Text()))
	}
	return m, nil
}

func detectBlocked(finalURL string, _ []byte) string {
	u, err := url.Parse(finalURL)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(u.Host, "consent.") || strings.HasPrefix(u.Host, "guce.") {
		return "consent"
	}
	return ""
}
