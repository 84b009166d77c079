package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/John-Robertt/ratingmeta/internal/infra/fsx"
)

// File 把每个 key 存为 <Dir>/<name>.json；过期时间写在条目内部。
type File struct {
	Dir string
	Now func() time.Time
}

type fileEntry struct {
	Expires time.Time `json:"expires,omitempty"`
	Value   []byte    `json:"value"`
}

// OpenFile 创建目录并清理崩溃残留的临时文件。
func OpenFile(dir string) (*File, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return nil, fmt.Errorf("cache dir 不能为空")
	}
	if _, err := fsx.CleanTemp(dir, time.Hour); err != nil {
		return nil, err
	}
	return &File{Dir: dir, Now: time.Now}, nil
}

func (b *File) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	name := fileName(key)
	raw, ok, err := fsx.ReadFile(b.Dir, name)
	if err != nil || !ok {
		return nil, false, err
	}
	var e fileEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		_ = fsx.Remove(b.Dir, name)
		return nil, false, nil
	}
	if !e.Expires.IsZero() && !b.now().Before(e.Expires) {
		_ = fsx.Remove(b.Dir, name)
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (b *File) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := fileEntry{Value: val}
	if ttl > 0 {
		e.Expires = b.now().Add(ttl)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(b.Dir, fileName(key), raw)
}

func (b *File) Close() error { return nil }

// fileName 保留 key 中可读的安全字符，并追加哈希避免不同 key 清洗后冲突。
func fileName(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
		if sb.Len() >= 64 {
			break
		}
	}
	return fmt.Sprintf("%s-%016x.json", sb.String(), xxhash.Sum64String(key))
}
