package google

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

// Source 从 Google 搜索结果的知识面板（div.Ap5OSd）中提取评分。
//
// 面板文本每行形如 "8.1/10 · IMDb"：分数在前、来源在后。
type Source struct {
	// BaseURL 为空时使用 https://www.google.com。
	BaseURL string
}

func (Source) Name() string { return "google" }

func (s Source) baseURL() string {
	u := strings.TrimSpace(s.BaseURL)
	if u == "" {
		return "https://www.google.com"
	}
	return strings.TrimRight(u, "/")
}

// Fetch 请求 https://www.google.com/search?q=<query>。
func (s Source) Fetch(ctx context.Context, query string, c *http.Client) ([]byte, string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, "", errors.New("query 不能为空")
	}
	pageURL := s.baseURL() + "/search?q=" + url.QueryEscape(query)
	b, err := providerx.FetchPage(ctx, c, pageURL, detectBlocked)
	return b, pageURL, err
}

// Parse 读取第一个评分面板并按行拆分。没有任何可用行时返回 ErrRatingsNotFound。
func (Source) Parse(html []byte) (domain.RatingMap, error) {
	if len(html) == 0 {
		return domain.RatingMap{}, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.RatingMap{}, err
	}

	var m domain.RatingMap
	for _, line := range strings.Split(doc.Find("div.Ap5OSd").First().Text(), "\n") {
		score, source, ok := splitLine(line)
		if !ok {
			continue
		}
		m.AddRaw(source, score)
	}
	if m.Len() == 0 {
		return domain.RatingMap{}, providerx.ErrRatingsNotFound
	}
	return m, nil
}

// 分隔符按顺序尝试："·"，UTF-8 被误解码后留下的替换字符，最后是 " - "。
// "Â·" 的情况由 "·" 覆盖：残留的 "Â" 在分数规范化时被丢弃。
var separators = []string{"·", "�", " - "}

func splitLine(line string) (score, source string, ok bool) {
	for _, sep := range separators {
		if !strings.Contains(line, sep) {
			continue
		}
		parts := strings.SplitN(line, sep, 2)
		score, source = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if score == "" || source == "" {
			return "", "", false
		}
		return score, source, true
	}
	return "", "", false
}

func detectBlocked(finalURL string, body []byte) string {
	u, err := url.Parse(finalURL)
	if err == nil {
		if strings.HasPrefix(u.Host, "consent.") {
			return "consent"
		}
		if strings.HasPrefix(u.Path, "/sorry/") {
			return "captcha"
		}
	}
	if bytes.Contains(body, []byte(`id="captcha-form"`)) {
		return "captcha"
	}
	return ""
}
