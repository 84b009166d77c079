package repository

import (
	"context"
	"errors"
	"os"
	"testing"
)

type fakeRows struct {
	rows    [][3]any
	i       int
	err     error
	scanErr error
	closed  bool
}

func (f *fakeRows) Next() bool {
	if f.i >= len(f.rows) {
		return false
	}
	f.i++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	row := f.rows[f.i-1]
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*string) = row[1].(string)
	if err := dest[2].(interface{ Scan(any) error }).Scan(row[2]); err != nil {
		return err
	}
	return nil
}

func (f *fakeRows) Err() error   { return f.err }
func (f *fakeRows) Close() error { f.closed = true; return nil }

func TestCollect_GroupsByTitle(t *testing.T) {
	rows := &fakeRows{rows: [][3]any{
		{"tt1", "imdb", "8.3"},
		{"tt1", "Rotten Tomatoes", "87"},
		{"tt2", "metacritic", "76"},
		{"tt3", "imdb", nil},
		{"tt1", "imdb", "8.4"},
	}}
	got, err := collect(rows)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !rows.closed {
		t.Fatalf("rows 应被关闭")
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 个作品（NULL 评分不计），实际 %d", len(got))
	}
	m := got["tt1"]
	if keys := m.Keys(); len(keys) != 2 || keys[0] != "imdb" || keys[1] != "rotten_tomatoes" {
		t.Fatalf("key 顺序/规范化不符合预期：%v", keys)
	}
	if v, _ := m.Get("imdb"); v != "8.4" {
		t.Fatalf("重复 provider 应后写覆盖，实际 %q", v)
	}
	if v, _ := got["tt2"].Get("metacritic"); v != "76" {
		t.Fatalf("期望 76，实际 %q", v)
	}
}

func TestCollect_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	if _, err := collect(&fakeRows{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("期望 rows.Err 透传，实际 %v", err)
	}
	if _, err := collect(&fakeRows{rows: [][3]any{{"tt1", "imdb", "1"}}, scanErr: boom}); !errors.Is(err, boom) {
		t.Fatalf("期望 Scan 错误透传，实际 %v", err)
	}
}

func TestForTitles_Guards(t *testing.T) {
	var r *Ratings
	if _, err := r.ForTitles(context.Background(), []string{"tt1"}); err == nil {
		t.Fatalf("nil repository 应返回错误")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("nil Close 不应报错：%v", err)
	}
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatalf("空 DSN 应返回错误")
	}
}

// 需要真实数据库：RATINGMETA_TEST_DATABASE_URL=postgres://... go test ./internal/repository
func TestForTitles_Postgres(t *testing.T) {
	dsn := os.Getenv("RATINGMETA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("未设置 RATINGMETA_TEST_DATABASE_URL")
	}
	ctx := context.Background()
	r, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("连接失败：%v", err)
	}
	defer r.Close()
	// 临时表只对当前连接可见。
	r.db.SetMaxOpenConns(1)

	if _, err := r.db.ExecContext(ctx, `CREATE TEMP TABLE ratings (ttid text, provider text, rating text)`); err != nil {
		t.Fatalf("建表失败：%v", err)
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO ratings VALUES ('tt1','imdb','8.3'),('tt2','metacritic','76'),('tt9','imdb','1')`); err != nil {
		t.Fatalf("插入失败：%v", err)
	}
	got, err := r.ForTitles(ctx, []string{"tt1", "tt2", "tt404"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 个作品，实际 %v", got)
	}
}
