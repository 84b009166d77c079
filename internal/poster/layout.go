package poster

import "github.com/John-Robertt/ratingmeta/internal/domain"

const (
	// badgeGap 是徽章之间在 padX 之外的固定间距（像素）。
	badgeGap = 30
	// perRow 只用于高度估算：高度按每行 3 个计算，与实际换行结果无关。
	perRow = 3
)

// Item 是一个已定位的徽章（坐标相对于 overlay 左上角）。
type Item struct {
	Source string
	Score  string
	Icon   string
	X, Y   int
}

// Layout 是 overlay 的几何描述。
type Layout struct {
	Width, Height int
	PadX, PadY    int
	Badge         int
	Items         []Item
	// Skipped 是没有图标映射而被跳过的来源 key。
	Skipped []string
}

// ComputeLayout 按插入顺序放置徽章：
//
//	padX = w/12, padY = h/25, badge = w/8
//	x 从 padX 开始，每放一个 x += badge + 30 + padX；若 x + badge > w 则换行
//	Height = ceil(n/3) * (padY + badge) + padY
//
// 纯函数；n == 0 时 Height 为 padY 且 Items 为空（调用方据此跳过合成）。
func ComputeLayout(w, h int, ratings domain.RatingMap, icons Icons) Layout {
	l := Layout{
		Width: w,
		PadX:  w / 12,
		PadY:  h / 25,
		Badge: w / 8,
	}
	x, y := l.PadX, l.PadY
	for _, r := range ratings.All() {
		icon, ok := icons.Resolve(r.Source, r.Score)
		if !ok {
			l.Skipped = append(l.Skipped, r.Source)
			continue
		}
		l.Items = append(l.Items, Item{Source: r.Source, Score: r.Score, Icon: icon, X: x, Y: y})
		x += l.Badge + badgeGap + l.PadX
		if x+l.Badge > w {
			x = l.PadX
			y += l.Badge + l.PadY
		}
	}
	rows := (len(l.Items) + perRow - 1) / perRow
	l.Height = rows*(l.PadY+l.Badge) + l.PadY
	return l
}
