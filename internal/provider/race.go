package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/John-Robertt/ratingmeta/internal/domain"
	"github.com/John-Robertt/ratingmeta/internal/metrics"
)

// RaceOptions 描述一次 racing 的依赖与回调。零值可用（无熔断、无回调、静默日志）。
type RaceOptions struct {
	Client   *http.Client
	Breakers *Breakers
	Log      zerolog.Logger

	// OnResult 在每个返回非空评分的分支结束时调用（胜者与落后者都会调用，可能并发）。
	// 它运行在与调用方取消无关的后台 ctx 中，典型用途是逐 source 写缓存。
	OnResult func(ctx context.Context, source string, m domain.RatingMap)

	// OnSettled 在全部分支结束后调用一次（可能晚于 Race 返回）。
	OnSettled func(attempts []Attempt)
}

type outcome struct {
	m       domain.RatingMap
	attempt Attempt
}

// Race 并发启动 reg 中的全部 source，返回第一个非空评分。
//
// 约束：
// - 第一个非空结果立即返回；其余分支在后台继续运行到结束（不受调用方取消影响，
//   由单次 HTTP 超时约束），结果只记录日志/指标并经 OnResult 写出
// - 空结果与错误都算“输”
// - 全部分支都输时，等全部结束后返回 *ExhaustedError（每个分支一条 Attempt）
// - 分支 panic 被恢复并记为该分支失败
// - 调用方 ctx 结束时不再等待，返回 ctx.Err()
func Race(ctx context.Context, reg Registry, query string, opts RaceOptions) (domain.RatingMap, string, []Attempt, error) {
	sources := reg.All()
	if len(sources) == 0 {
		return domain.RatingMap{}, "", nil, &ExhaustedError{}
	}

	bg := context.WithoutCancel(ctx)
	results := make(chan outcome, len(sources))
	var wg conc.WaitGroup
	for _, s := range sources {
		s := s
		wg.Go(func() {
			// panic 时 defer 先送出预设的失败结果，panic 再由 conc 收集。
			o := outcome{attempt: Attempt{Provider: s.Name(), Stage: StageFetch, Err: errBranchPanicked}}
			defer func() { results <- o }()
			o = runSource(bg, s, query, opts)
			if o.attempt.Stage == StageOK && opts.OnResult != nil {
				opts.OnResult(bg, o.attempt.Provider, o.m)
			}
		})
	}

	attempts := make([]Attempt, 0, len(sources))
	for received := 0; received < len(sources); received++ {
		var o outcome
		select {
		case o = <-results:
		case <-ctx.Done():
			metrics.RaceOutcomes.WithLabelValues("canceled").Inc()
			go settle(&wg, results, len(sources)-received, append([]Attempt(nil), attempts...), opts)
			return domain.RatingMap{}, "", attempts, ctx.Err()
		}
		attempts = append(attempts, o.attempt)
		if o.attempt.Stage == StageOK {
			metrics.RaceOutcomes.WithLabelValues("won").Inc()
			metrics.RaceWinners.WithLabelValues(o.attempt.Provider).Inc()
			opts.Log.Debug().Str("provider", o.attempt.Provider).Int("ratings", o.m.Len()).Msg("racing 胜出")
			go settle(&wg, results, len(sources)-received-1, append([]Attempt(nil), attempts...), opts)
			return o.m, o.attempt.Provider, attempts, nil
		}
	}

	recoverPanics(&wg, opts.Log)
	metrics.RaceOutcomes.WithLabelValues("exhausted").Inc()
	if opts.OnSettled != nil {
		opts.OnSettled(append([]Attempt(nil), attempts...))
	}
	return domain.RatingMap{}, "", attempts, &ExhaustedError{Attempts: attempts}
}

// settle 在后台收齐剩余分支的结果。
func settle(wg *conc.WaitGroup, results <-chan outcome, remaining int, attempts []Attempt, opts RaceOptions) {
	for i := 0; i < remaining; i++ {
		o := <-results
		attempts = append(attempts, o.attempt)
	}
	recoverPanics(wg, opts.Log)
	if opts.OnSettled != nil {
		opts.OnSettled(attempts)
	}
}

func recoverPanics(wg *conc.WaitGroup, log zerolog.Logger) {
	if r := wg.WaitAndRecover(); r != nil {
		log.Error().Str("panic", r.String()).Msg("source 分支 panic")
	}
}

func runSource(ctx context.Context, s Source, query string, opts RaceOptions) outcome {
	name := s.Name()
	start := time.Now()
	m, err := opts.Breakers.Execute(name, func() (domain.RatingMap, error) {
		html, pageURL, err := s.Fetch(ctx, query, opts.Client)
		if err != nil {
			return domain.RatingMap{}, &Error{Provider: name, Stage: StageFetch, Err: err}
		}
		m, err := s.Parse(html)
		if err != nil {
			return domain.RatingMap{}, &Error{Provider: name, Stage: StageParse, Err: err}
		}
		if m.Len() == 0 {
			return domain.RatingMap{}, &Error{Provider: name, Stage: StageParse, Err: ErrRatingsNotFound}
		}
		opts.Log.Debug().Str("provider", name).Str("url", pageURL).Int("ratings", m.Len()).Msg("source 成功")
		return m, nil
	})
	metrics.SourceFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.SourceFetches.WithLabelValues(name, "ok").Inc()
		return outcome{m: m, attempt: Attempt{Provider: name, Stage: StageOK}}
	}

	var pe *Error
	stage, label, inner := StageFetch, "fetch_error", err
	switch {
	case isBreakerRejection(err):
		label = "breaker_open"
	case errors.As(err, &pe):
		stage, inner = pe.Stage, pe.Err
		if stage == StageParse {
			label = "parse_error"
			if errors.Is(inner, ErrRatingsNotFound) {
				label = "not_found"
			}
		}
	}
	metrics.SourceFetches.WithLabelValues(name, label).Inc()
	opts.Log.Warn().Str("provider", name).Str("stage", stage).Str("reason", Describe(inner)).Msg("source 失败")
	return outcome{attempt: Attempt{Provider: name, Stage: stage, Err: inner}}
}
