package provider

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StageFetch = "fetch"
	StageParse = "parse"
	StageOK    = "ok"
)

var (
	// ErrRatingsNotFound：页面抓到了，但没有可用的评分区域/条目。
	ErrRatingsNotFound = errors.New("ratings not found")
	// ErrAllSourcesExhausted：所有 source 分支都失败（可用 errors.Is 匹配 *ExhaustedError）。
	ErrAllSourcesExhausted = errors.New("all rating sources exhausted")

	errBranchPanicked = errors.New("source branch panicked")
)

// Attempt 记录一个 racing 分支的结果（用于解释为什么没有评分）。
type Attempt struct {
	Provider string // source name（小写）
	Stage    string // "fetch" / "parse" / "ok"
	Err      error  // nil when Stage=="ok"
}

// Error 是 source 阶段的可追溯错误。
type Error struct {
	Provider string // source name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ExhaustedError 表示所有分支均已结束且没有任何分支给出非空评分。
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllSourcesExhausted.Error() + "：无可用 source"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", a.Provider, a.Stage, Describe(a.Err)))
	}
	return ErrAllSourcesExhausted.Error() + "：" + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllSourcesExhausted }

// Unwrap 暴露各分支的错误，便于 errors.As 检查某个具体原因（例如 *BlockedError）。
func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			out = append(out, a.Err)
		}
	}
	return out
}
