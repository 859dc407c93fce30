package cache

import (
	"sync"
	"time"

	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/types"
)

// Sample is one point in the cache size history: the aggregate size at a
// moment in time, tagged with the operation that caused the recompute.
type Sample struct {
	At    time.Time   `json:"at"`
	Total types.Bytes `json:"total"`
	Op    string      `json:"op"`
	Delta int64       `json:"delta"` // change against the previous sample
}

// MonitorOption is an option for a monitor.
type MonitorOption func(*Monitor)

// WithClock is an option for a monitor to set the clock.
func WithClock(clock Clock) MonitorOption {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithDebounceInterval is an option for a monitor to set the trigger coalescing window.
func WithDebounceInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithStalenessCeiling is an option for a monitor to set the maximum age of the last publish.
func WithStalenessCeiling(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.staleness = d
	}
}

// WithHistoryCapacity is an option for a monitor to set the sample ring buffer length.
func WithHistoryCapacity(n int) MonitorOption {
	return func(m *Monitor) {
		m.capacity = n
	}
}

// WithMonitorLogger is an option for a monitor to set the logger.
func WithMonitorLogger(log *logger.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = log
	}
}

// Monitor recomputes the aggregate cache size with debouncing and keeps a
// bounded FIFO history of samples.
//
// Bursts of triggers, such as one per rendered image, coalesce into at
// most one recompute per debounce interval; a trigger arriving while a
// recompute is already pending is dropped. Subscribers are notified only
// when the size actually changed, or when the staleness ceiling has
// elapsed since the last publish.
type Monitor struct {
	mu     sync.Mutex
	store  *Store
	clock  Clock
	logger *logger.Logger

	interval  time.Duration
	staleness time.Duration
	capacity  int

	history     []Sample
	pending     bool
	total       types.Bytes
	hasTotal    bool
	lastPublish time.Time
	subs        []chan types.Bytes
}

const (
	defaultDebounceInterval = 100 * time.Millisecond
	defaultStalenessCeiling = 2 * time.Second
	defaultHistoryCapacity  = 50
)

func NewMonitor(store *Store, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:     store,
		clock:     SystemClock(),
		interval:  defaultDebounceInterval,
		staleness: defaultStalenessCeiling,
		capacity:  defaultHistoryCapacity,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.NewLogger(logger.WithName("monitor"))
	}
	return m
}

// Trigger requests a debounced size recompute tagged with op. Triggers
// landing inside the coalescing window of a pending recompute are dropped.
func (m *Monitor) Trigger(op string) {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return
	}
	m.pending = true
	m.mu.Unlock()

	wait := m.clock.After(m.interval)
	go func() {
		<-wait
		if _, err := m.Refresh(op); err != nil {
			m.logger.Warn("size recompute failed", "op", op, "error", err)
		}
	}()
}

// Refresh recomputes the aggregate size synchronously via a full scan and
// records a sample. It also clears any pending debounced trigger, since
// the fresh value supersedes it.
func (m *Monitor) Refresh(op string) (types.Bytes, error) {
	total, err := m.store.SizeBytes()

	m.mu.Lock()
	m.pending = false
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	m.record(total, op)
	m.mu.Unlock()

	return total, nil
}

// SetTotal records a size without scanning. Used for the optimistic reset
// to zero right after a cache clear; the next Refresh reconciles against
// the authoritative scan.
func (m *Monitor) SetTotal(total types.Bytes, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(total, op)
}

// record appends a sample and publishes if warranted. Caller holds m.mu.
func (m *Monitor) record(total types.Bytes, op string) {
	now := m.clock.Now()

	sample := Sample{At: now, Total: total, Op: op}
	if m.hasTotal {
		sample.Delta = total.Int64() - m.total.Int64()
	}

	m.history = append(m.history, sample)
	if m.capacity > 0 && len(m.history) > m.capacity {
		m.history = m.history[len(m.history)-m.capacity:]
	}

	changed := !m.hasTotal || total != m.total
	stale := m.staleness > 0 && now.Sub(m.lastPublish) >= m.staleness

	m.total = total
	m.hasTotal = true

	if !changed && !stale {
		return
	}
	m.lastPublish = now
	for _, sub := range m.subs {
		// Non-blocking: a slow subscriber misses updates instead of
		// wedging the monitor
		select {
		case sub <- total:
		default:
		}
	}
}

// Total returns the last recorded aggregate size.
func (m *Monitor) Total() types.Bytes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// History returns a read-only snapshot of the sample ring buffer, oldest
// first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Subscribe registers a size-changed channel. The channel is buffered;
// senders never block.
func (m *Monitor) Subscribe() <-chan types.Bytes {
	ch := make(chan types.Bytes, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
