package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock advances instantly whenever the scheduler waits.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func collectTicks(t *testing.T, s *Scheduler, n int, onTick func(time.Time)) []time.Time {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks []time.Time
	err := s.Run(ctx, func(_ context.Context, at time.Time) error {
		ticks = append(ticks, at)
		if onTick != nil {
			onTick(at)
		}
		if len(ticks) == n {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run 应返回 context.Canceled, got %v", err)
	}
	return ticks
}

func TestSchedulerAlignedTicks(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 7, 0, time.UTC)
	clock := &fakeClock{now: start}
	s := New(Options{Interval: 30 * time.Second, AlignToStart: true, Clock: clock}, zerolog.Nop())

	ticks := collectTicks(t, s, 3, nil)

	want := []time.Time{
		time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC),
		time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 10, 1, 30, 0, time.UTC),
	}
	for i := range want {
		if !ticks[i].Equal(want[i]) {
			t.Fatalf("第 %d 次 tick 时间错误: got %s want %s", i, ticks[i], want[i])
		}
	}
	if clock.waits[0] != 23*time.Second {
		t.Fatalf("首次等待应为 23s, got %s", clock.waits[0])
	}
}

func TestSchedulerRunImmediately(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 7, 0, time.UTC)
	clock := &fakeClock{now: start}
	s := New(Options{Interval: 30 * time.Second, RunImmediately: true, Clock: clock}, zerolog.Nop())

	ticks := collectTicks(t, s, 2, nil)

	if !ticks[0].Equal(start) {
		t.Fatalf("首个 tick 应立即执行: got %s", ticks[0])
	}
	if !ticks[1].Equal(start.Add(30 * time.Second)) {
		t.Fatalf("第二个 tick 时间错误: got %s", ticks[1])
	}
}

func TestSchedulerStartupDelay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Options{Interval: time.Minute, StartupDelay: 5 * time.Second, Clock: clock}, zerolog.Nop())

	collectTicks(t, s, 1, nil)

	if clock.waits[0] != 5*time.Second {
		t.Fatalf("应先等待启动延迟, got %v", clock.waits)
	}
}

func TestSchedulerSkipsMissedTicks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Options{Interval: 10 * time.Second, AlignToStart: true, Clock: clock}, zerolog.Nop())

	// 第一次执行耗时 25s，跨过两个周期
	first := true
	ticks := collectTicks(t, s, 2, func(time.Time) {
		if first {
			first = false
			clock.advance(25 * time.Second)
		}
	})

	want := time.Date(2025, 1, 1, 0, 0, 40, 0, time.UTC)
	if !ticks[1].Equal(want) {
		t.Fatalf("超时后应对齐到下一个周期: got %s want %s", ticks[1], want)
	}
}

func TestSchedulerTickErrorDoesNotStop(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Options{Interval: time.Second, Clock: clock}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	_ = s.Run(ctx, func(context.Context, time.Time) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errors.New("boom")
	})
	if calls != 3 {
		t.Fatalf("tick 出错后应继续执行, calls=%d", calls)
	}
}

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("非正间隔应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
