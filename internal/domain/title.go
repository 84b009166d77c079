package domain

import (
	"strings"

	"github.com/goccy/go-json"
)

// MediaType 是元数据服务使用的媒体类型（路径片段 /meta/{type}/...）。
type MediaType string

const (
	MediaMovie  MediaType = "movie"
	MediaSeries MediaType = "series"
)

// ParseMediaType 校验并规范化媒体类型；只接受 movie / series。
func ParseMediaType(s string) (MediaType, bool) {
	switch MediaType(strings.ToLower(strings.TrimSpace(s))) {
	case MediaMovie:
		return MediaMovie, true
	case MediaSeries:
		return MediaSeries, true
	default:
		return "", false
	}
}

// TitleMeta 是单个作品的元数据（每次请求临时构造，不落盘）。
//
// 约束：
// - 已知字段之外的 JSON 字段原样保存在 Extra 中，透传时不丢信息
// - Poster 可以是 http(s) URL，也可以是 data: URI（已标注的海报）
type TitleMeta struct {
	ID          string
	Type        string
	Name        string
	Description string
	Poster      string

	Extra map[string]json.RawMessage
}

// HasName 表示是否有可用于搜索的名称；没有名称时上层应原样透传。
func (m TitleMeta) HasName() bool { return strings.TrimSpace(m.Name) != "" }

var knownTitleFields = []string{"id", "type", "name", "description", "poster"}

func (m *TitleMeta) fieldPtr(name string) *string {
	switch name {
	case "id":
		return &m.ID
	case "type":
		return &m.Type
	case "name":
		return &m.Name
	case "description":
		return &m.Description
	case "poster":
		return &m.Poster
	}
	return nil
}

func (m *TitleMeta) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = TitleMeta{}
	for _, k := range knownTitleFields {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			// 类型不是字符串（例如 null/数字）：不强转，留在 Extra 里原样透传。
			continue
		}
		*m.fieldPtr(k) = s
		delete(raw, k)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

func (m TitleMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+len(knownTitleFields))
	for k, v := range m.Extra {
		out[k] = v
	}
	for _, k := range knownTitleFields {
		s := *m.fieldPtr(k)
		if s == "" {
			continue
		}
		b, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return json.Marshal(out)
}

// Clone 返回深拷贝（Extra 的 RawMessage 也复制），用于并发场景下避免共享可变状态。
func (m TitleMeta) Clone() TitleMeta {
	c := m
	if m.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}
