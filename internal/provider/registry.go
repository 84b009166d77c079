package provider

import (
	"fmt"
	"strings"
)

// Registry 是 Source 的只读注册表：按 name 索引，同时保留注册顺序。
type Registry struct {
	byName map[string]Source
	order  []Source
}

func NewRegistry(sources ...Source) (Registry, error) {
	byName := make(map[string]Source, len(sources))
	order := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s == nil {
			return Registry{}, fmt.Errorf("source 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(s.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("source.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 source：%q", name)
		}
		byName[name] = s
		order = append(order, s)
	}
	return Registry{byName: byName, order: order}, nil
}

func (r Registry) Get(name string) (Source, bool) {
	if r.byName == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	s, ok := r.byName[name]
	return s, ok
}

// All 按注册顺序返回全部 source。
func (r Registry) All() []Source {
	return append([]Source(nil), r.order...)
}

func (r Registry) Len() int { return len(r.order) }
