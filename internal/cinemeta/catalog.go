package cinemeta

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/John-Robertt/ratingmeta/internal/domain"
)

// 目录 ID（与 manifest 中声明的一致）。
const (
	CatalogTrending = "trending"
	CatalogFeatured = "featured"
	CatalogSearch   = "search"
	CatalogBestYoY  = "best_yoy"
)

// CatalogIDs 是支持的全部目录。
var CatalogIDs = []string{CatalogTrending, CatalogFeatured, CatalogSearch, CatalogBestYoY}

// Extra 是目录请求的附加参数。
type Extra struct {
	Genre  string
	Search string
	Skip   int
}

// ParseExtra 解析路径片段形式的附加参数，例如 "genre=Action&skip=100"。
// 无法识别的键被忽略；skip 不是非负整数时按 0 处理。
func ParseExtra(s string) Extra {
	var e Extra
	q, err := url.ParseQuery(s)
	if err != nil {
		return e
	}
	e.Genre = q.Get("genre")
	e.Search = q.Get("search")
	if n, err := strconv.Atoi(q.Get("skip")); err == nil && n > 0 {
		e.Skip = n
	}
	return e
}

// String 返回稳定的规范形式（用作缓存键的一部分）。
func (e Extra) String() string {
	return fmt.Sprintf("genre=%s&search=%s&skip=%d", e.Genre, e.Search, e.Skip)
}

// CatalogPageURL 把目录 ID 映射为 Cinemeta 的目录地址；未知 ID 返回 ok=false。
//
//	trending → {catalog}/top/catalog/{type}/top/genre=..&skip=...json
//	featured → {catalog}/imdbRating/catalog/{type}/imdbRating/genre=..&skip=...json
//	best_yoy → {catalog}/year/catalog/{type}/year/genre=<year>&skip=...json（genre 为空时取当前年份）
//	search   → {base}/catalog/{type}/top/search=..&skip=...json
func (c *Client) CatalogPageURL(id string, typ domain.MediaType, e Extra, now time.Time) (string, bool) {
	t := url.PathEscape(string(typ))
	genre := url.PathEscape(e.Genre)
	switch id {
	case CatalogTrending:
		return fmt.Sprintf("%s/top/catalog/%s/top/genre=%s&skip=%d.json", c.catalogURL(), t, genre, e.Skip), true
	case CatalogFeatured:
		return fmt.Sprintf("%s/imdbRating/catalog/%s/imdbRating/genre=%s&skip=%d.json", c.catalogURL(), t, genre, e.Skip), true
	case CatalogBestYoY:
		if e.Genre == "" {
			genre = strconv.Itoa(now.Year())
		}
		return fmt.Sprintf("%s/year/catalog/%s/year/genre=%s&skip=%d.json", c.catalogURL(), t, genre, e.Skip), true
	case CatalogSearch:
		return fmt.Sprintf("%s/catalog/%s/top/search=%s&skip=%d.json", c.baseURL(), t, url.PathEscape(e.Search), e.Skip), true
	default:
		return "", false
	}
}
