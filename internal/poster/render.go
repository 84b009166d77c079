package poster

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// overlayColor 是 75% 不透明的黑色背景。
var overlayColor = color.NRGBA{A: 191}

// textGap 是分数文字与图标之间的间距（像素）。
const textGap = 10

// renderOverlay 绘制 width × height 的 overlay：半透明背景 + 图标 + 分数文字。
// 分数文字放在图标右侧，起点为图标右边缘 + textGap。face 为 nil 时只画图标。
func renderOverlay(l Layout, height int, icons Icons, face font.Face) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, l.Width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(overlayColor), image.Point{}, draw.Src)

	baseline := l.Badge / 2
	if face != nil {
		m := face.Metrics()
		capH := m.CapHeight.Ceil()
		if capH <= 0 {
			capH = m.Ascent.Ceil()
		}
		baseline = (l.Badge + capH) / 2
	}

	for _, it := range l.Items {
		if icon, ok := icons[it.Icon]; ok && l.Badge > 0 {
			r := image.Rect(it.X, it.Y, it.X+l.Badge, it.Y+l.Badge)
			xdraw.CatmullRom.Scale(dst, r, icon, icon.Bounds(), xdraw.Over, nil)
		}
		if face == nil {
			continue
		}
		d := font.Drawer{
			Dst:  dst,
			Src:  image.White,
			Face: face,
			Dot:  fixed.P(it.X+l.Badge+textGap, it.Y+baseline),
		}
		d.DrawString(it.Score)
	}
	return dst
}

// newFace 按徽章大小生成字体（字号约为徽章边长的一半）。
// opentype 的 Face 不是并发安全的，每次渲染单独创建。
func newFace(f *opentype.Font, badge int) (font.Face, error) {
	size := float64(badge) * 0.5
	if size < 8 {
		size = 8
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
