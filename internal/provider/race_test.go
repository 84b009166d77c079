package provider

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/John-Robertt/ratingmeta/internal/domain"
)

type stubSource struct {
	name string

	gate     chan struct{} // 非 nil：Fetch 阻塞直到关闭
	fetchErr error
	parseErr error
	ratings  domain.RatingMap
	panicMsg string

	fetchCalls atomic.Int32
	done       atomic.Bool
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, query string, c *http.Client) ([]byte, string, error) {
	s.fetchCalls.Add(1)
	defer s.done.Store(true)
	if s.gate != nil {
		<-s.gate
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.fetchErr != nil {
		return nil, "", s.fetchErr
	}
	return []byte("<html/>"), "https://search.test/" + s.name, nil
}

func (s *stubSource) Parse(html []byte) (domain.RatingMap, error) {
	if s.parseErr != nil {
		return domain.RatingMap{}, s.parseErr
	}
	return s.ratings, nil
}

func mustRegistry(t *testing.T, sources ...Source) Registry {
	t.Helper()
	reg, err := NewRegistry(sources...)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return reg
}

func TestRace_SecondSourceWinsWhileOthersPending(t *testing.T) {
	s1 := &stubSource{name: "google", gate: make(chan struct{}), ratings: domain.NewRatingMap(domain.Rating{Source: "imdb", Score: "1"})}
	s2 := &stubSource{name: "bing", ratings: domain.NewRatingMap(domain.Rating{Source: "imdb", Score: "8.1"}, domain.Rating{Source: "metacritic", Score: "75"})}
	s3 := &stubSource{name: "yahoo", gate: make(chan struct{}), fetchErr: errors.New("boom")}
	reg := mustRegistry(t, s1, s2, s3)

	var (
		mu      sync.Mutex
		written = map[string]domain.RatingMap{}
	)
	settled := make(chan []Attempt, 1)
	opts := RaceOptions{
		OnResult: func(ctx context.Context, source string, m domain.RatingMap) {
			mu.Lock()
			written[source] = m
			mu.Unlock()
		},
		OnSettled: func(a []Attempt) { settled <- a },
	}

	m, winner, attempts, err := Race(context.Background(), reg, "Heat - movie", opts)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if winner != "bing" {
		t.Fatalf("期望 bing 胜出，实际 %q", winner)
	}
	if v, _ := m.Get("metacritic"); v != "75" || m.Len() != 2 {
		t.Fatalf("期望返回 bing 的评分，实际 %v", m.All())
	}
	if len(attempts) != 1 || attempts[0].Stage != StageOK {
		t.Fatalf("返回时只应看到胜者的 attempt：%+v", attempts)
	}
	if s1.done.Load() || s3.done.Load() {
		t.Fatalf("胜出时其它分支仍应挂起")
	}

	close(s1.gate)
	close(s3.gate)

	select {
	case all := <-settled:
		if len(all) != 3 {
			t.Fatalf("期望 3 条 attempt，实际 %+v", all)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("后台分支未在超时内结束")
	}

	mu.Lock()
	defer mu.Unlock()
	if _, ok := written["google"]; !ok {
		t.Fatalf("落后但成功的分支也应写出结果：%v", written)
	}
	if _, ok := written["yahoo"]; ok {
		t.Fatalf("失败分支不应写出结果")
	}
}

func TestRace_ExhaustedOnlyAfterAllSettle(t *testing.T) {
	gate := make(chan struct{})
	s1 := &stubSource{name: "google", fetchErr: &HTTPStatusError{StatusCode: 429}}
	s2 := &stubSource{name: "bing", parseErr: ErrRatingsNotFound}
	s3 := &stubSource{name: "yahoo", gate: gate} // 返回空 map：同样算输

	reg := mustRegistry(t, s1, s2, s3)

	errCh := make(chan error, 1)
	var attempts []Attempt
	go func() {
		var err error
		_, _, attempts, err = Race(context.Background(), reg, "q", RaceOptions{})
		errCh <- err
	}()

	select {
	case <-errCh:
		t.Fatalf("仍有分支未结束时不应返回")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)

	var err error
	select {
	case err = <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("Race 未返回")
	}
	if !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("期望 ErrAllSourcesExhausted，实际 %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || len(ex.Attempts) != 3 || len(attempts) != 3 {
		t.Fatalf("期望 3 条 attempt，实际 %v", err)
	}
	var se *HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != 429 {
		t.Fatalf("应能从 ExhaustedError 中取出具体原因：%v", err)
	}
	for _, s := range []*stubSource{s1, s2, s3} {
		if !s.done.Load() {
			t.Fatalf("%s 尚未结束", s.name)
		}
	}
}

func TestRace_PanicRecoveredAsFailure(t *testing.T) {
	s1 := &stubSource{name: "google", panicMsg: "kaboom"}
	s2 := &stubSource{name: "bing", fetchErr: errors.New("nope")}
	reg := mustRegistry(t, s1, s2)

	_, _, attempts, err := Race(context.Background(), reg, "q", RaceOptions{})
	if !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("期望 ErrAllSourcesExhausted，实际 %v", err)
	}
	found := false
	for _, a := range attempts {
		if a.Provider == "google" && errors.Is(a.Err, errBranchPanicked) {
			found = true
		}
	}
	if !found {
		t.Fatalf("panic 分支应记录为失败：%+v", attempts)
	}
}

func TestRace_CallerCancelReturnsEarly(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	s := &stubSource{name: "google", gate: gate}
	reg := mustRegistry(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, _, err := Race(ctx, reg, "q", RaceOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("期望 ctx 错误，实际 %v", err)
	}
}

func TestRace_EmptyRegistry(t *testing.T) {
	_, _, _, err := Race(context.Background(), Registry{}, "q", RaceOptions{})
	if !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("期望 ErrAllSourcesExhausted，实际 %v", err)
	}
}

func TestBreakers_OpenAfterFetchFailures(t *testing.T) {
	b := NewBreakers(BreakerSettings{Failures: 2, OpenTimeout: time.Hour})
	s := &stubSource{name: "google", fetchErr: errors.New("down")}
	reg := mustRegistry(t, s)

	for i := 0; i < 3; i++ {
		_, _, _, _ = Race(context.Background(), reg, "q", RaceOptions{Breakers: b})
	}
	if got := s.fetchCalls.Load(); got != 2 {
		t.Fatalf("熔断后不应再调用 Fetch：期望 2 次，实际 %d", got)
	}
	if b.State("google") != gobreaker.StateOpen {
		t.Fatalf("期望 breaker 打开，实际 %v", b.State("google"))
	}
}

func TestBreakers_ParseFailuresDoNotTrip(t *testing.T) {
	b := NewBreakers(BreakerSettings{Failures: 1, OpenTimeout: time.Hour})
	s := &stubSource{name: "bing", parseErr: ErrRatingsNotFound}
	reg := mustRegistry(t, s)

	for i := 0; i < 3; i++ {
		_, _, _, _ = Race(context.Background(), reg, "q", RaceOptions{Breakers: b})
	}
	if got := s.fetchCalls.Load(); got != 3 {
		t.Fatalf("parse 失败不应熔断：期望 3 次 Fetch，实际 %d", got)
	}
}

func TestRegistry_OrderAndDuplicates(t *testing.T) {
	reg := mustRegistry(t, &stubSource{name: "google"}, &stubSource{name: "Bing"})
	all := reg.All()
	if len(all) != 2 || all[0].Name() != "google" {
		t.Fatalf("应保持注册顺序：%v", all)
	}
	if _, ok := reg.Get(" BING "); !ok {
		t.Fatalf("Get 应忽略大小写与空白")
	}
	if _, err := NewRegistry(&stubSource{name: "a"}, &stubSource{name: "A"}); err == nil {
		t.Fatalf("重复 name 应报错")
	}
}
