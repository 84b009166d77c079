package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/ratingmeta/internal/domain"
)

// Source 把“搜索引擎页面变化”限制在各自的子包内部；racing 只依赖统一接口与 RatingMap。
//
// 约束：
// - Fetch 不做缓存、不做重试、不做限速（这些由 httpx/cache 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出；所有条目都经过 domain 规范化
// - 没有找到任何评分时，Parse 返回空 RatingMap 或 ErrRatingsNotFound（两者都视为失败的分支）
type Source interface {
	Name() string
	Fetch(ctx context.Context, query string, c *http.Client) (html []byte, pageURL string, err error)
	Parse(html []byte) (domain.RatingMap, error)
}
