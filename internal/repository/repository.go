// Package repository 从 PostgreSQL 批量读取预先计算好的评分。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/John-Robertt/ratingmeta/internal/domain"
)

const ratingsQuery = `SELECT ttid, provider, rating FROM ratings WHERE ttid = ANY($1)`

// Ratings 是评分表的只读访问。
type Ratings struct {
	db *sql.DB
}

// Open 连接 PostgreSQL（驱动 lib/pq）并 Ping 一次。
func Open(ctx context.Context, dsn string) (*Ratings, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url 不能为空")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接数据库失败：%w", err)
	}
	return &Ratings{db: db}, nil
}

// New 包装已有连接。
func New(db *sql.DB) *Ratings { return &Ratings{db: db} }

// ForTitles 用一次查询取回所有 ids 的评分：id -> RatingMap。
//
// 约束：
// - 没有评分的 id 不出现在结果中
// - provider 列按来源 key 规范化；同一 id 的重复 provider 后写覆盖先写
func (r *Ratings) ForTitles(ctx context.Context, ids []string) (map[string]domain.RatingMap, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository 未初始化")
	}
	if len(ids) == 0 {
		return map[string]domain.RatingMap{}, nil
	}
	rows, err := r.db.QueryContext(ctx, ratingsQuery, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("查询评分失败：%w", err)
	}
	return collect(rows)
}

// Close 关闭连接池。
func (r *Ratings) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// rowScanner 是 *sql.Rows 的最小子集。
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func collect(rows rowScanner) (map[string]domain.RatingMap, error) {
	defer rows.Close()
	out := make(map[string]domain.RatingMap)
	for rows.Next() {
		var id, provider string
		var rating sql.NullString
		if err := rows.Scan(&id, &provider, &rating); err != nil {
			return nil, err
		}
		if !rating.Valid {
			continue
		}
		m := out[id]
		m.Set(domain.NormalizeSourceKey(provider), strings.TrimSpace(rating.String))
		if m.Len() > 0 {
			out[id] = m
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
