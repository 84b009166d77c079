package domain

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/mozillazg/go-unidecode"
)

// AllProviders 是 allow-list 中的哨兵值：出现时不做过滤。
const AllProviders = "all"

// Rating 是一条“来源 -> 分数”记录（均已规范化）。
type Rating struct {
	Source string
	Score  string
}

// RatingMap 是按插入顺序保存的评分表。
//
// 不变量：
// - Source 唯一，且已经过 NormalizeSourceKey
// - Score 非空，且只包含数字与至多一个 '.'
//
// 顺序有意义：海报布局按插入顺序排列徽章。
type RatingMap struct {
	items []Rating
}

// Set 写入一条已规范化的记录；空 key 或空分数会被忽略。已存在的 key 原位覆盖（保持顺序）。
func (m *RatingMap) Set(source, score string) {
	if source == "" || score == "" {
		return
	}
	for i := range m.items {
		if m.items[i].Source == source {
			m.items[i].Score = score
			return
		}
	}
	m.items = append(m.items, Rating{Source: source, Score: score})
}

// AddRaw 规范化原始文本后写入；规范化结果为空时返回 false。
func (m *RatingMap) AddRaw(rawSource, rawScore string) bool {
	source := NormalizeSourceKey(rawSource)
	score := NormalizeScore(rawScore)
	if source == "" || score == "" {
		return false
	}
	m.Set(source, score)
	return true
}

func (m RatingMap) Get(source string) (string, bool) {
	for _, r := range m.items {
		if r.Source == source {
			return r.Score, true
		}
	}
	return "", false
}

func (m RatingMap) Len() int { return len(m.items) }

// All 返回按插入顺序的副本。
func (m RatingMap) All() []Rating {
	return append([]Rating(nil), m.items...)
}

func (m RatingMap) Keys() []string {
	out := make([]string, 0, len(m.items))
	for _, r := range m.items {
		out = append(out, r.Source)
	}
	return out
}

// Filter 按 allow-list 过滤（保持顺序）。allow-list 含 "all" 时原样返回副本。
// allow-list 中的 token 同样经过 NormalizeSourceKey，因此 "times of india" 可以匹配 times_of_india。
func (m RatingMap) Filter(allowed []string) RatingMap {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		k := NormalizeSourceKey(a)
		if k == AllProviders {
			return RatingMap{items: m.All()}
		}
		if k != "" {
			set[k] = struct{}{}
		}
	}
	var out RatingMap
	for _, r := range m.items {
		if _, ok := set[r.Source]; ok {
			out.items = append(out.items, r)
		}
	}
	return out
}

// NewRatingMap 按给定顺序构造；输入会被再次规范化，非法条目丢弃。
func NewRatingMap(rs ...Rating) RatingMap {
	var m RatingMap
	for _, r := range rs {
		m.AddRaw(r.Source, r.Score)
	}
	return m
}

// MarshalJSON 输出为保持顺序的 JSON 对象（日志/CLI 输出用）。
func (m RatingMap) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range m.items {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(r.Source)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.Score)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// NormalizeSourceKey 把来源名称规范化为 canonical key：
// 转写为 ASCII、小写、非字母数字的连续片段替换为单个 '_'、去掉首尾 '_'。
//
// 纯函数，不会失败；无法得到 key 时返回空串。
func NormalizeSourceKey(raw string) string {
	s := strings.ToLower(unidecode.Unidecode(raw))
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteByte(c)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// NormalizeScore 把原始分数文本规范化为“数字 + 至多一个小数点”的形式。
//
// 顺序固定：
// 1) 截断到第一个 '/'（去分母，"7.5/10" -> "7.5"）
// 2) 按空白切分，取第一个含数字的片段（"87% Tomatometer" -> "87%"，"PG (13)" -> "(13)"）；
//    不是简单取第一个片段，所以 "Rotten 87%" 得到 "87" 而不是空串
// 3) 截断到第一个 '%'
// 4) 去掉除数字与 '.' 以外的字符；第二个 '.' 起截断
//
// 纯函数且幂等；没有数字时返回空串（调用方视为“无分数”）。
func NormalizeScore(raw string) string {
	s := raw
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = firstScoreToken(s)
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	var b strings.Builder
	dot, digit := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digit = true
			b.WriteByte(c)
		case c == '.':
			if dot {
				return finishScore(b.String(), digit)
			}
			dot = true
			b.WriteByte(c)
		}
	}
	return finishScore(b.String(), digit)
}

func finishScore(s string, digit bool) string {
	if !digit {
		return ""
	}
	return strings.TrimSuffix(s, ".")
}

func firstScoreToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	for _, f := range fields {
		if strings.ContainsAny(f, "0123456789") {
			return f
		}
	}
	return fields[0]
}
