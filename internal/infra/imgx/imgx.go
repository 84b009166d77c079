// Package imgx 负责海报字节的加载、识别、解码与重新编码。
package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp" // 注册 WebP 解码器（只解码，没有编码器）
)

// ErrNotImage 表示字节内容不是可识别的图片。
var ErrNotImage = errors.New("not an image")

// Size 只读取图片头部得到尺寸与格式（不解码像素）。
func Size(b []byte) (w, h int, format string, err error) {
	if len(b) == 0 {
		return 0, 0, "", ErrNotImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return 0, 0, "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, "", errors.New("图片尺寸无效")
	}
	return cfg.Width, cfg.Height, format, nil
}

// Decode 解码 jpeg/png/gif/webp。
func Decode(b []byte) (image.Image, string, error) {
	if len(b) == 0 {
		return nil, "", ErrNotImage
	}
	return image.Decode(bytes.NewReader(b))
}

// Encode 按 format 重新编码；没有编码器的格式（例如 webp）统一输出 JPEG。
// 返回实际使用的 MIME 类型。
func Encode(img image.Image, format string) ([]byte, string, error) {
	var out bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		if err := png.Encode(&out, img); err != nil {
			return nil, "", err
		}
		return out.Bytes(), "image/png", nil
	case "gif":
		if err := gif.Encode(&out, img, &gif.Options{NumColors: 256}); err != nil {
			return nil, "", err
		}
		return out.Bytes(), "image/gif", nil
	default:
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", err
		}
		return out.Bytes(), "image/jpeg", nil
	}
}

// Sniff 通过内容识别 MIME 类型；不是 image/* 时 ok=false。
func Sniff(b []byte) (mime string, ok bool) {
	if len(b) == 0 {
		return "", false
	}
	m := mimetype.Detect(b)
	mime = m.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime, strings.HasPrefix(mime, "image/")
}
