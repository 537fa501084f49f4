package logic

import "time"

// Debouncer tracks raw edges for one button and decides when a candidate
// level has been stable long enough to become the confirmed state.
// Not safe for concurrent use; callers serialize access.
type Debouncer struct {
	windowMs  uint64
	activeLow bool

	confirmedPressed bool
	lastRaw          Level
	lastEdgeMs       uint64

	// Candidate level awaiting confirmation
	pending    Level
	hasPending bool

	counts EventCounts
}

// NewDebouncer seeds the confirmed state from an initial sample.
// No event is produced for the initial sample.
func NewDebouncer(window time.Duration, activeLow bool, initial Level, now uint64) *Debouncer {
	return &Debouncer{
		windowMs:         uint64(window.Milliseconds()),
		activeLow:        activeLow,
		confirmedPressed: IsPressedFromRaw(initial, activeLow),
		lastRaw:          initial,
		lastEdgeMs:       now,
	}
}

// Edge records an edge notification carrying the pin's current raw level.
// A level that differs from the candidate restarts the window. A level that
// matches a candidate whose window has already elapsed confirms it.
func (d *Debouncer) Edge(level Level, now uint64) *Event {
	d.lastRaw = level

	if !d.hasPending || level != d.pending {
		d.pending = level
		d.hasPending = true
		d.lastEdgeMs = now
		return nil
	}

	// Same level as candidate: the window keeps its original start.
	return d.Settle(now)
}

// Settle confirms the pending candidate if it has been stable for the window.
// Returns nil when nothing is pending, the window has not elapsed, or the
// candidate matches the already confirmed state.
func (d *Debouncer) Settle(now uint64) *Event {
	if !d.hasPending {
		return nil
	}
	if Elapsed(now, d.lastEdgeMs) < d.windowMs {
		return nil
	}
	return d.confirm(now)
}

func (d *Debouncer) confirm(now uint64) *Event {
	level := d.pending
	d.hasPending = false

	pressed := IsPressedFromRaw(level, d.activeLow)
	if pressed == d.confirmedPressed {
		// Bounce that ended where it started
		return nil
	}
	d.confirmedPressed = pressed

	e := &Event{State: stateFor(pressed), Raw: level, At: now}
	if pressed {
		e.Type = EventPress
		d.counts.Press++
	} else {
		e.Type = EventRelease
		d.counts.Release++
	}
	return e
}

// Deadline returns the timestamp at which the pending candidate becomes due.
func (d *Debouncer) Deadline() (uint64, bool) {
	if !d.hasPending {
		return 0, false
	}
	return d.lastEdgeMs + d.windowMs, true
}

// Remaining returns how long until the pending candidate is due, or false if
// nothing is pending.
func (d *Debouncer) Remaining(now uint64) (time.Duration, bool) {
	if !d.hasPending {
		return 0, false
	}
	elapsed := Elapsed(now, d.lastEdgeMs)
	if elapsed >= d.windowMs {
		return 0, true
	}
	return time.Duration(d.windowMs-elapsed) * time.Millisecond, true
}

// Pending returns the candidate level, if any.
func (d *Debouncer) Pending() (Level, bool) {
	return d.pending, d.hasPending
}

// LastRaw returns the last raw level observed.
func (d *Debouncer) LastRaw() Level {
	return d.lastRaw
}

// IsPressed returns the confirmed state.
func (d *Debouncer) IsPressed() bool {
	return d.confirmedPressed
}

// IsReleased returns the inverse of the confirmed state.
func (d *Debouncer) IsReleased() bool {
	return !d.confirmedPressed
}

// State returns the confirmed state.
func (d *Debouncer) State() State {
	return stateFor(d.confirmedPressed)
}

// Counts returns the confirmed transition counts.
func (d *Debouncer) Counts() EventCounts {
	return d.counts
}
