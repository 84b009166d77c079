package bing

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

// Source 从 Bing 实体卡片中提取评分：每张 div.l_ecrd_ratings_txt 卡片含一个来源标签与一个分数。
type Source struct {
	// BaseURL 为空时使用 https://www.bing.com。
	BaseURL string
}

func (Source) Name() string { return "bing" }

func (s Source) baseURL() string {
	u := strings.TrimSpace(s.BaseURL)
	if u == "" {
		return "https://www.bing.com"
	}
	return strings.TrimRight(u, "/")
}

// Fetch 请求 https://www.bing.com/search?q=<query>。
// 与 google/yahoo 不同，空格编码为 %20 而不是 '+'。
func (s Source) Fetch(ctx context.Context, query string, c *http.Client) ([]byte, string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, "", errors.New("query 不能为空")
	}
	pageURL := s.baseURL() + "/search?q=" + strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	b, err := providerx.FetchPage(ctx, c, pageURL, detectBlocked)
	return b, pageURL, err
}

// Parse 遍历全部评分卡片。页面上没有卡片时返回 ErrRatingsNotFound；
// 卡片存在但分数都无法规范化时返回空 map（同样算失败的分支）。
func (Source) Parse(html []byte) (domain.RatingMap, error) {
	if len(html) == 0 {
		return domain.RatingMap{}, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.RatingMap{}, err
	}

	cards := doc.Find("div.l_ecrd_ratings_txt")
	if cards.Length() == 0 {
		return domain.RatingMap{}, providerx.ErrRatingsNotFound
	}

	var m domain.RatingMap
	cards.Each(func(_ int, card *goquery.Selection) {
		label := strings.TrimSpace(card.Find("div.l_ecrd_txt_qfttl").First().Text())
		score := strings.TrimSpace(card.Find("div.l_ecrd_ratings_prim").First().Text())
		m.AddRaw(label, score)
	})
	return m, nil
}

func detectBlocked(finalURL string, body []byte) string {
	if u, err := url.Parse(finalURL); err == nil && strings.Contains(u.Path, "captcha") {
		return "captcha"
	}
	if bytes.Contains(body, []byte(`id="b_captcha"`)) {
		return "captcha"
	}
	return ""
}
