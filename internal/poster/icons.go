package poster

import (
	"embed"
	"fmt"
	"image"
	"image/png"
	"strconv"
)

//go:embed assets/*.png
var assetFS embed.FS

// Icons 是“图标名 -> 图片”的集合。只有集合里存在的图标才会被布局。
type Icons map[string]image.Image

// LoadIcons 解码内置的徽章图标。
func LoadIcons() (Icons, error) {
	entries, err := assetFS.ReadDir("assets")
	if err != nil {
		return nil, err
	}
	icons := make(Icons, len(entries))
	for _, e := range entries {
		f, err := assetFS.Open("assets/" + e.Name())
		if err != nil {
			return nil, err
		}
		img, err := png.Decode(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("解码图标 %s 失败：%w", e.Name(), err)
		}
		name := e.Name()[:len(e.Name())-len(".png")]
		icons[name] = img
	}
	return icons, nil
}

// IconName 把来源 key 映射为图标名；未知来源返回 ok=false。
//
// rotten_tomatoes 按分数区分：严格大于 60 为 rt_fresh，其余（含 60 与无法解析的分数）为 rt_rotten。
func IconName(source, score string) (string, bool) {
	switch source {
	case "imdb", "metacritic", "common_sense_media":
		return source, true
	case "times_of_india":
		return "toi", true
	case "rotten_tomatoes":
		if v, err := strconv.ParseFloat(score, 64); err == nil && v > 60 {
			return "rt_fresh", true
		}
		return "rt_rotten", true
	default:
		return "", false
	}
}

// Resolve 返回来源对应的图标名；映射存在但集合中缺少图标时同样视为未知。
func (ic Icons) Resolve(source, score string) (string, bool) {
	name, ok := IconName(source, score)
	if !ok {
		return "", false
	}
	if _, ok := ic[name]; !ok {
		return "", false
	}
	return name, true
}
