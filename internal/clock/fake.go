package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
// Timers fire synchronously from Advance, in deadline order, on the calling goroutine.
type Fake struct {
	mu     sync.Mutex
	now    uint64
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	f        *Fake
	deadline uint64
	seq      int
	fn       func()
	stopped  bool
	fired    bool
}

// NewFake creates a Fake clock starting at the given millisecond timestamp.
func NewFake(startMs uint64) *Fake {
	return &Fake{now: startMs}
}

// NowMs returns the current fake time.
func (f *Fake) NowMs() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run once Advance moves past now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{
		f:        f,
		deadline: f.now + uint64(d.Milliseconds()),
		seq:      f.seq,
		fn:       fn,
	}
	f.timers = append(f.timers, t)
	return t
}

// Stop cancels the timer.
func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing every timer that becomes due.
// Timers scheduled by a firing timer are honoured if they fall inside the
// advanced range. Callbacks run without the clock's lock held.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + uint64(d.Milliseconds())
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		next.fired = true
		if next.deadline > f.now {
			f.now = next.deadline
		}
		f.mu.Unlock()

		next.fn()
	}
}

// Set jumps to an absolute timestamp, firing due timers on the way.
func (f *Fake) Set(nowMs uint64) {
	f.mu.Lock()
	cur := f.now
	f.mu.Unlock()
	if nowMs <= cur {
		return
	}
	f.Advance(time.Duration(nowMs-cur) * time.Millisecond)
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (f *Fake) nextDueLocked(target uint64) *fakeTimer {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	f.timers = live

	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].deadline != f.timers[j].deadline {
			return f.timers[i].deadline < f.timers[j].deadline
		}
		return f.timers[i].seq < f.timers[j].seq
	})
	if len(f.timers) == 0 || f.timers[0].deadline > target {
		return nil
	}
	return f.timers[0]
}
