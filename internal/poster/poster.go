// Package poster 在海报底部合成评分徽章条。
package poster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/rs/zerolog"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"

	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/infra/imgx"
	"github.com/John-Robertt/ratingmeta/internal/metrics"
)

// ErrImageDecode 表示海报无法解码（或无法得到尺寸）。
var ErrImageDecode = errors.New("poster: image decode failed")

// errNothingToDraw 表示没有任何可识别的来源；此时原样返回海报字节。
var errNothingToDraw = errors.New("poster: no recognized ratings")

// Annotator 持有图标与字体；并发安全。
type Annotator struct {
	icons Icons
	font  *opentype.Font
	Log   zerolog.Logger
}

// NewAnnotator 加载内置图标与 Go Bold 字体。
func NewAnnotator(log zerolog.Logger) (*Annotator, error) {
	icons, err := LoadIcons()
	if err != nil {
		return nil, err
	}
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("解析字体失败：%w", err)
	}
	return &Annotator{icons: icons, font: f, Log: log}, nil
}

// Annotate 把评分徽章合成到海报底部，并按原格式重新编码（webp 等无编码器的格式输出 JPEG）。
//
// 约束：
// - 没有可识别的来源：返回与输入完全相同的字节
// - 任何失败（解码/编码）：返回原始字节
func (a *Annotator) Annotate(poster []byte, ratings domain.RatingMap) []byte {
	out, err := a.annotate(poster, ratings)
	switch {
	case err == nil:
		metrics.PosterAnnotations.WithLabelValues("annotated").Inc()
		return out
	case errors.Is(err, errNothingToDraw):
		metrics.PosterAnnotations.WithLabelValues("passthrough").Inc()
	default:
		metrics.PosterAnnotations.WithLabelValues("failed").Inc()
		a.Log.Warn().Err(err).Msg("海报合成失败，返回原图")
	}
	return poster
}

// Layout 返回海报对应的布局（只读取图片头部）。
func (a *Annotator) Layout(poster []byte, ratings domain.RatingMap) (Layout, error) {
	w, h, _, err := imgx.Size(poster)
	if err != nil {
		return Layout{}, fmt.Errorf("%w：%v", ErrImageDecode, err)
	}
	return ComputeLayout(w, h, ratings, a.icons), nil
}

func (a *Annotator) annotate(poster []byte, ratings domain.RatingMap) ([]byte, error) {
	l, err := a.Layout(poster, ratings)
	if err != nil {
		return nil, err
	}
	for _, s := range l.Skipped {
		a.Log.Debug().Str("provider", s).Msg("没有对应图标，跳过")
	}
	if len(l.Items) == 0 {
		return nil, errNothingToDraw
	}

	src, format, err := imgx.Decode(poster)
	if err != nil {
		return nil, fmt.Errorf("%w：%v", ErrImageDecode, err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	// overlay 高于海报时截断到海报高度。
	height := l.Height
	if height > h {
		height = h
	}
	top := h - height

	face, err := newFace(a.font, l.Badge)
	if err != nil {
		return nil, err
	}
	defer face.Close()
	overlay := renderOverlay(l, height, a.icons, face)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	draw.Draw(dst, image.Rect(0, top, w, h), overlay, image.Point{}, draw.Over)

	out, _, err := imgx.Encode(dst, format)
	if err != nil {
		return nil, err
	}
	return out, nil
}
