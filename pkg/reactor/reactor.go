// Package reactor provides the host's single-threaded event loop.
//
// Timer callbacks and posted functions all run on one goroutine, one at a
// time, so state owned by loop callbacks needs no further locking. Code
// running elsewhere (ADC readers, API handlers) must Post onto the loop.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Constants
const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

// Common errors
var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
	ErrQueueFull     = errors.New("reactor: async queue full")
)

// maxSleep bounds how long the dispatch loop sleeps without rechecking.
const maxSleep = time.Second

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to idle the timer until it is updated again.
type TimerCallback func(eventtime float64) float64

// Timer represents a registered timer.
type Timer struct {
	id       uint64
	callback TimerCallback
	waketime float64
	running  bool
}

// Clock supplies the reactor's notion of time in seconds.
type Clock interface {
	Monotonic() float64
}

type wallClock struct {
	start time.Time
}

func (c wallClock) Monotonic() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock is a Clock that only moves when told to. It is used for
// simulation and tests, driving the reactor through Step.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// NewManualClock returns a clock starting at the given time.
func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

// Monotonic returns the current manual time.
func (c *ManualClock) Monotonic() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is ignored.
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}

// Advance moves the clock forward by dt seconds and returns the new time.
func (c *ManualClock) Advance(dt float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dt > 0 {
		c.now += dt
	}
	return c.now
}

// Completion represents an async operation that will complete with a result.
type Completion struct {
	reactor *Reactor
	result  interface{}
	done    chan struct{}
	once    sync.Once
}

// Test returns true if the completion has a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Complete sets the completion result and wakes any waiters.
func (c *Completion) Complete(result interface{}) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// Wait blocks until the completion is done, the timeout expires or the
// reactor ends. Returns timeoutResult in the latter two cases.
func (c *Completion) Wait(timeout time.Duration, timeoutResult interface{}) interface{} {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.result
	case <-timer.C:
		return timeoutResult
	case <-c.reactor.ctx.Done():
		select {
		case <-c.done:
			return c.result
		default:
			return timeoutResult
		}
	}
}

// Reactor manages timers and posted callbacks on one dispatch goroutine.
type Reactor struct {
	mu          sync.Mutex
	timers      []*Timer
	nextTimerID uint64

	clock      Clock
	asyncQueue chan func(eventtime float64)
	wake       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Reactor driven by the wall clock.
func New() *Reactor {
	return NewWithClock(wallClock{start: time.Now()})
}

// NewWithClock creates a Reactor that reads time from clock.
func NewWithClock(clock Clock) *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		clock:      clock,
		asyncQueue: make(chan func(eventtime float64), 1024),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Monotonic returns the current time in seconds.
func (r *Reactor) Monotonic() float64 {
	return r.clock.Monotonic()
}

// RegisterTimer registers a new timer with the given callback and wake time.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	timer := &Timer{callback: callback, waketime: waketime}
	r.addTimer(timer)
	return timer
}

func (r *Reactor) addTimer(timer *Timer) {
	r.mu.Lock()
	r.nextTimerID++
	timer.id = r.nextTimerID
	r.timers = append(r.timers, timer)
	r.mu.Unlock()

	r.notify()
}

// UnregisterTimer removes a timer.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer.waketime = NEVER
	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer updates a timer's wake time. Updates made by a timer's own
// callback are superseded by the callback's return value.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	r.mu.Lock()
	if timer.running {
		r.mu.Unlock()
		return
	}
	timer.waketime = waketime
	r.mu.Unlock()

	r.notify()
}

// Waketime returns the timer's current wake time.
func (r *Reactor) Waketime(timer *Timer) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return timer.waketime
}

// Completion creates a new Completion object.
func (r *Reactor) Completion() *Completion {
	return &Completion{reactor: r, done: make(chan struct{})}
}

// RegisterCallback schedules a one-shot callback on the loop at waketime.
// Returns a Completion that will contain the callback's result.
func (r *Reactor) RegisterCallback(callback func(eventtime float64) interface{}, waketime float64) *Completion {
	completion := r.Completion()
	timer := &Timer{waketime: waketime}
	timer.callback = func(eventtime float64) float64 {
		completion.Complete(callback(eventtime))
		r.UnregisterTimer(timer)
		return NEVER
	}
	r.addTimer(timer)
	return completion
}

// Post queues fn to run on the loop at its next dispatch. Safe to call from
// any goroutine.
func (r *Reactor) Post(fn func(eventtime float64)) error {
	if r.ctx.Err() != nil {
		return ErrReactorClosed
	}
	select {
	case r.asyncQueue <- fn:
	default:
		return ErrQueueFull
	}
	r.notify()
	return nil
}

// RegisterAsyncCallback runs callback on the loop from any goroutine and
// returns a Completion holding its result. If the callback cannot be queued
// the completion is finished with nil.
func (r *Reactor) RegisterAsyncCallback(callback func(eventtime float64) interface{}) *Completion {
	completion := r.Completion()
	err := r.Post(func(eventtime float64) {
		completion.Complete(callback(eventtime))
	})
	if err != nil {
		completion.Complete(nil)
	}
	return completion
}

func (r *Reactor) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Step runs queued callbacks and every timer due at eventtime, then returns
// the earliest pending wake time. The dispatch loop calls it; simulations
// using a ManualClock call it directly.
func (r *Reactor) Step(eventtime float64) float64 {
	r.processAsyncCallbacks(eventtime)

	r.mu.Lock()
	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)
	r.mu.Unlock()

	for _, timer := range timers {
		r.mu.Lock()
		if eventtime < timer.waketime {
			r.mu.Unlock()
			continue
		}
		timer.waketime = NEVER
		timer.running = true
		r.mu.Unlock()

		next := timer.callback(eventtime)

		r.mu.Lock()
		timer.running = false
		if next < timer.waketime {
			timer.waketime = next
		}
		r.mu.Unlock()
	}

	return r.nextWake()
}

func (r *Reactor) nextWake() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := NEVER
	for _, t := range r.timers {
		if t.waketime < next {
			next = t.waketime
		}
	}
	return next
}

func (r *Reactor) processAsyncCallbacks(eventtime float64) {
	for {
		select {
		case fn := <-r.asyncQueue:
			fn(eventtime)
		default:
			return
		}
	}
}

// Run starts the dispatch loop on its own goroutine.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.dispatchLoop()
}

// End signals the reactor to stop.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait waits for the dispatch loop to exit.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

// Done is closed once End has been called.
func (r *Reactor) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()

	sleep := time.NewTimer(0)
	defer sleep.Stop()

	for r.running.Load() {
		now := r.Monotonic()
		next := r.Step(now)

		delay := maxSleep
		if next < NEVER {
			if d := time.Duration((next - r.Monotonic()) * float64(time.Second)); d < delay {
				delay = d
			}
		}
		if delay <= 0 {
			continue
		}

		if !sleep.Stop() {
			select {
			case <-sleep.C:
			default:
			}
		}
		sleep.Reset(delay)
		select {
		case <-sleep.C:
		case <-r.wake:
		case <-r.ctx.Done():
			return
		}
	}
}
