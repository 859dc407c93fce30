package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pixgrid/internal/core/types"

	"github.com/dustin/go-humanize"
)

// Tracker records the progress and outcome of a long-running operation,
// such as a background caching job or a bulk fill.
type Tracker struct {
	name      string
	mu        sync.RWMutex
	status    types.Status
	startedAt time.Time
	endedAt   time.Time
	current   int64
	total     int64
	err       error
}

func NewTracker(name string) *Tracker {
	return &Tracker{
		name:   name,
		status: types.StatusPending,
	}
}

func (t *Tracker) Name() string {
	return t.name
}

func (t *Tracker) Status() types.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *Tracker) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.status.IsActive() {
		return time.Since(t.startedAt)
	}
	return t.endedAt.Sub(t.startedAt)
}

func (t *Tracker) DurationString() string {
	return t.Duration().Round(time.Second).String()
}

func (t *Tracker) Current() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *Tracker) SetCurrent(current int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = max(0, current)
}

func (t *Tracker) IncCurrent(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = max(0, t.current+n)
}

func (t *Tracker) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = max(0, total)
}

func (t *Tracker) IncTotal(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = max(0, t.total+n)
}

// Progress returns current/total as a float from 0 to 1.
func (t *Tracker) Progress() float64 {
	if t.Total() == 0 {
		return 0
	}
	return float64(t.Current()) / float64(t.Total())
}

// ProgressFraction returns current/total as a string.
func (t *Tracker) ProgressFraction() string {
	return fmt.Sprintf("%d/%d", t.Current(), t.Total())
}

// PercentString returns current/total as a string percentage.
func (t *Tracker) PercentString() string {
	return fmt.Sprintf("%.0f%%", t.Progress()*100)
}

// Speed returns the average speed current/duration as a float.
func (t *Tracker) Speed() float64 {
	duration := t.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(t.Current()) / duration
}

// SpeedBytes returns the average speed as a human readable byte rate.
func (t *Tracker) SpeedBytes() string {
	return fmt.Sprintf("%s/s", humanize.IBytes(uint64(t.Speed())))
}

// Start triggers the tracker to start.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Now()
	t.status = types.StatusRunning
	t.err = nil
}

// Update updates the tracker from an error.
func (t *Tracker) Update(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endedAt = time.Now()
	switch err {
	case nil:
		t.status = types.StatusSucceeded
		t.err = nil
	case context.Canceled:
		t.status = types.StatusCanceled
		t.err = err
	default:
		t.status = types.StatusFailed
		t.err = err
	}
}

// Reset resets the tracker to its initial state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Time{}
	t.endedAt = time.Time{}
	t.status = types.StatusPending
	t.err = nil
	t.current = 0
	t.total = 0
}

func (t *Tracker) IsPending() bool {
	return t.Status() == types.StatusPending
}

func (t *Tracker) IsRunning() bool {
	return t.Status() == types.StatusRunning
}

func (t *Tracker) IsSucceeded() bool {
	return t.Status().IsSuccess()
}

func (t *Tracker) IsFailed() bool {
	return t.Status() == types.StatusFailed
}
