package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingObserver struct {
	mu   sync.Mutex
	jobs []string
	errs []error
}

func (r *recordingObserver) ObserveTick(job string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) snapshot() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...), append([]error(nil), r.errs...)
}

func TestNextTickAlignsWithOffset(t *testing.T) {
	s := New(Options{Name: "broadcast", Interval: 24 * time.Hour, AlignToStart: true, Offset: 9 * time.Hour}, zerolog.Nop())

	before := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	if got, want := s.nextTick(before), time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("期望 %s，实际 %s", want, got)
	}

	after := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if got, want := s.nextTick(after), time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("对齐点本身应跳到下一天，实际 %s", got)
	}

	if got := s.bucketStart(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)); !got.Equal(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("bucket 起点错误: %s", got)
	}
}

func TestNextTickWithoutAlignment(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2024, 3, 1, 8, 30, 17, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("未对齐时应直接加间隔，实际 %s", got)
	}
	if s.Name() != "default" {
		t.Fatalf("默认名称错误: %s", s.Name())
	}
}

func TestRunRecoversFromPanicAndKeepsTicking(t *testing.T) {
	obs := &recordingObserver{}
	s := New(Options{Name: "alerts", Interval: 10 * time.Millisecond, RunOnStart: true, Observer: obs}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			switch n {
			case 1:
				panic("boom")
			case 2:
				return errors.New("upstream down")
			case 3:
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("期望 context.Canceled，实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("调度器没有按时退出")
	}

	jobs, errs := obs.snapshot()
	if len(jobs) < 3 {
		t.Fatalf("期望至少 3 次 tick 记录，实际 %d", len(jobs))
	}
	if jobs[0] != "alerts" || errs[0] == nil || errs[1] == nil || errs[2] != nil {
		t.Fatalf("tick 结果记录错误: %v %v", jobs, errs)
	}
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("不应执行 tick")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("零间隔应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
