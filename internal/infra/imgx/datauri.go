package imgx

import (
	"encoding/base64"
	"errors"
	"strings"
)

// DataURI 构造 data:<mime>;base64,<payload>。
func DataURI(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// IsDataURI 判断 s 是否为 data: URI。
func IsDataURI(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "data:")
}

// ParseDataURI 解析 base64 形式的 data URI，返回 MIME 与字节。
func ParseDataURI(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return "", nil, errors.New("不是 data URI")
	}
	meta, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", nil, errors.New("data URI 缺少 ','")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, errors.New("只支持 base64 data URI")
	}
	mime := strings.TrimSuffix(meta, ";base64")
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return mime, b, nil
}
