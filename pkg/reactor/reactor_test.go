package reactor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New() returned nil")
	}
	defer r.End()
}

func TestMonotonic(t *testing.T) {
	r := New()
	defer r.End()

	t1 := r.Monotonic()
	time.Sleep(10 * time.Millisecond)
	t2 := r.Monotonic()

	if t2 <= t1 {
		t.Errorf("Monotonic time not increasing: %f <= %f", t2, t1)
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(5)
	if c.Monotonic() != 5 {
		t.Errorf("expected start 5, got %f", c.Monotonic())
	}
	if got := c.Advance(1.5); got != 6.5 {
		t.Errorf("expected 6.5 after advance, got %f", got)
	}
	c.Set(3)
	if c.Monotonic() != 6.5 {
		t.Errorf("clock moved backwards to %f", c.Monotonic())
	}
	c.Set(10)
	if c.Monotonic() != 10 {
		t.Errorf("expected 10, got %f", c.Monotonic())
	}
}

func TestStepFixedPeriodTimer(t *testing.T) {
	clock := NewManualClock(0)
	r := NewWithClock(clock)
	defer r.End()

	var fired []float64
	r.RegisterTimer(func(eventtime float64) float64 {
		fired = append(fired, eventtime)
		return eventtime + 1.0
	}, NOW)

	for _, now := range []float64{0, 0.5, 1.0, 1.2, 2.0, 3.5} {
		clock.Set(now)
		r.Step(now)
	}

	want := []float64{0, 1.0, 2.0, 3.5}
	if len(fired) != len(want) {
		t.Fatalf("fired at %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fire %d at %f, want %f", i, fired[i], want[i])
		}
	}
}

func TestStepReturnsNextWake(t *testing.T) {
	r := NewWithClock(NewManualClock(0))
	defer r.End()

	if next := r.Step(0); next != NEVER {
		t.Errorf("expected NEVER with no timers, got %f", next)
	}

	timer := r.RegisterTimer(func(eventtime float64) float64 {
		return eventtime + 2
	}, 1)
	if next := r.Step(0); next != 1 {
		t.Errorf("expected next wake 1, got %f", next)
	}
	if next := r.Step(1); next != 3 {
		t.Errorf("expected next wake 3, got %f", next)
	}

	r.UpdateTimer(timer, 1.5)
	if w := r.Waketime(timer); w != 1.5 {
		t.Errorf("expected waketime 1.5, got %f", w)
	}
}

func TestUpdateTimerInsideCallbackIsSuperseded(t *testing.T) {
	r := NewWithClock(NewManualClock(0))
	defer r.End()

	var timer *Timer
	timer = r.RegisterTimer(func(eventtime float64) float64 {
		r.UpdateTimer(timer, NOW)
		return eventtime + 1
	}, NOW)

	r.Step(0)
	if w := r.Waketime(timer); w != 1 {
		t.Errorf("expected callback return value 1, got %f", w)
	}
}

func TestPostRunsOnNextStep(t *testing.T) {
	r := NewWithClock(NewManualClock(0))
	defer r.End()

	var got float64 = -1
	if err := r.Post(func(eventtime float64) { got = eventtime }); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if got != -1 {
		t.Fatal("posted function ran before Step")
	}
	r.Step(4.25)
	if got != 4.25 {
		t.Errorf("expected eventtime 4.25, got %f", got)
	}
}

func TestPostAfterEnd(t *testing.T) {
	r := New()
	r.End()
	if err := r.Post(func(float64) {}); err != ErrReactorClosed {
		t.Errorf("expected ErrReactorClosed, got %v", err)
	}
}

func TestTimer(t *testing.T) {
	r := New()

	var called atomic.Int32
	r.RegisterTimer(func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}, NOW)

	r.Run()
	time.Sleep(50 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 1 {
		t.Errorf("Timer callback called %d times, expected 1", called.Load())
	}
}

func TestTimerRepeat(t *testing.T) {
	r := New()

	var called atomic.Int32
	r.RegisterTimer(func(eventtime float64) float64 {
		if called.Add(1) < 3 {
			return eventtime + 0.01
		}
		return NEVER
	}, NOW)

	r.Run()
	time.Sleep(100 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() < 3 {
		t.Errorf("Timer callback called %d times, expected at least 3", called.Load())
	}
}

func TestUnregisterTimer(t *testing.T) {
	r := New()

	var called atomic.Int32
	timer := r.RegisterTimer(func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}, r.Monotonic()+0.1)
	r.UnregisterTimer(timer)

	r.Run()
	time.Sleep(150 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 0 {
		t.Errorf("Timer callback called %d times after unregister, expected 0", called.Load())
	}
}

func TestCompletion(t *testing.T) {
	r := New()
	defer r.End()

	comp := r.Completion()
	if comp.Test() {
		t.Error("Completion should not be done yet")
	}

	comp.Complete("result")
	comp.Complete("ignored")

	if !comp.Test() {
		t.Error("Completion should be done")
	}
	if result := comp.Wait(time.Second, nil); result != "result" {
		t.Errorf("Expected 'result', got %v", result)
	}
}

func TestCompletionWaitTimeout(t *testing.T) {
	r := New()
	defer r.End()

	start := time.Now()
	result := r.Completion().Wait(50*time.Millisecond, "timeout")
	elapsed := time.Since(start)

	if result != "timeout" {
		t.Errorf("Expected 'timeout', got %v", result)
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("Wait returned too early: %v", elapsed)
	}
}

func TestRegisterCallback(t *testing.T) {
	r := NewWithClock(NewManualClock(0))
	defer r.End()

	completion := r.RegisterCallback(func(eventtime float64) interface{} {
		return eventtime * 2
	}, 2)

	r.Step(1)
	if completion.Test() {
		t.Fatal("callback ran before its waketime")
	}
	r.Step(2)
	if !completion.Test() {
		t.Fatal("callback did not run")
	}
	if completion.result != 4.0 {
		t.Errorf("Expected 4, got %v", completion.result)
	}
	if next := r.Step(3); next != NEVER {
		t.Errorf("one-shot callback should be unregistered, next wake %f", next)
	}
}

func TestRegisterAsyncCallbackFromGoroutine(t *testing.T) {
	r := New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	done := make(chan interface{}, 1)
	go func() {
		c := r.RegisterAsyncCallback(func(eventtime float64) interface{} {
			return "on loop"
		})
		done <- c.Wait(time.Second, "timeout")
	}()

	select {
	case res := <-done:
		if res != "on loop" {
			t.Errorf("expected 'on loop', got %v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async callback never completed")
	}
}
