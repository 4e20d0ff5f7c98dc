package fn

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- Result ---

func TestResult(t *testing.T) {
	v, err := Ok(7).Unwrap()
	if err != nil || v != 7 {
		t.Fatalf("Ok = (%d, %v)", v, err)
	}
	if Ok(7).IsErr() {
		t.Fatal("Ok reported as error")
	}

	boom := errors.New("boom")
	_, err = Err[int](boom).Unwrap()
	if !errors.Is(err, boom) {
		t.Fatalf("Err = %v", err)
	}
	if Err[int](boom).IsOk() {
		t.Fatal("Err reported as ok")
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair("x", nil).Unwrap(); err != nil || v != "x" {
		t.Fatalf("FromPair ok = (%q, %v)", v, err)
	}
	boom := errors.New("boom")
	if _, err := FromPair("", boom).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("FromPair err = %v", err)
	}
}

// --- Stages ---

func TestThen_Composes(t *testing.T) {
	double := func(_ context.Context, n int) Result[int] { return Ok(n * 2) }
	str := func(_ context.Context, n int) Result[string] { return Ok(strconv.Itoa(n)) }

	out := Then(double, str)(context.Background(), 21)
	v, err := out.Unwrap()
	if err != nil || v != "42" {
		t.Fatalf("composed = (%q, %v)", v, err)
	}
}

func TestThen_ShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	fail := func(_ context.Context, n int) Result[int] { return Err[int](boom) }
	ran := false
	second := func(_ context.Context, n int) Result[int] { ran = true; return Ok(n) }

	_, err := Then(fail, second)(context.Background(), 1).Unwrap()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if ran {
		t.Fatal("second stage ran after failure")
	}
}

func TestTapStage(t *testing.T) {
	var seen int
	tap := TapStage(func(_ context.Context, n int) { seen = n })
	v, err := tap(context.Background(), 9).Unwrap()
	if err != nil || v != 9 {
		t.Fatalf("tap = (%d, %v)", v, err)
	}
	if seen != 9 {
		t.Fatalf("side effect saw %d", seen)
	}
}

func TestTracedStage_PassesThrough(t *testing.T) {
	stage := TracedStage("test.stage", func(_ context.Context, n int) Result[int] {
		return Ok(n + 1)
	})
	if v, err := stage(context.Background(), 1).Unwrap(); err != nil || v != 2 {
		t.Fatalf("traced = (%d, %v)", v, err)
	}

	boom := errors.New("boom")
	failing := TracedStage("test.fail", func(context.Context, int) Result[int] {
		return Err[int](boom)
	})
	if _, err := failing(context.Background(), 1).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("traced failure = %v", err)
	}
}

// --- Retry ---

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{Attempts: 3, BaseWait: time.Millisecond},
		func(context.Context) Result[int] {
			calls++
			if calls < 3 {
				return Err[int](errors.New("transient"))
			}
			return Ok(calls)
		})
	v, err := r.Unwrap()
	if err != nil || v != 3 {
		t.Fatalf("retry = (%d, %v)", v, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	r := Retry(context.Background(), RetryOpts{Attempts: 3, BaseWait: time.Millisecond},
		func(context.Context) Result[int] { calls++; return Err[int](boom) })
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{Attempts: 5, BaseWait: time.Minute},
		func(context.Context) Result[int] { return Err[int](errors.New("transient")) })
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryStage(t *testing.T) {
	calls := 0
	stage := RetryStage(RetryOpts{Attempts: 2, BaseWait: time.Millisecond},
		func(_ context.Context, n int) Result[int] {
			calls++
			if calls == 1 {
				return Err[int](errors.New("transient"))
			}
			return Ok(n)
		})
	if v, err := stage(context.Background(), 5).Unwrap(); err != nil || v != 5 {
		t.Fatalf("stage = (%d, %v)", v, err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

// --- ParMap ---

func TestParMap_PreservesOrder(t *testing.T) {
	in := []int{1, 2, 3, 4, 5}
	out := ParMap(in, 2, func(n int) int { return n * n })
	want := []int{1, 4, 9, 16, 25}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v", out)
		}
	}
}

func TestParMap_Empty(t *testing.T) {
	out := ParMap(nil, 4, func(n int) int { return n })
	if len(out) != 0 {
		t.Fatalf("out = %v", out)
	}
}

func TestParMap_BoundsConcurrency(t *testing.T) {
	var cur atomic.Int32
	var mu sync.Mutex
	peak := int32(0)
	in := make([]int, 20)
	ParMap(in, 3, func(n int) int {
		c := cur.Add(1)
		mu.Lock()
		if c > peak {
			peak = c
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		cur.Add(-1)
		return n
	})
	if peak > 3 {
		t.Fatalf("peak concurrency = %d", peak)
	}
}
