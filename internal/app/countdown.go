package app

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"asamblea/internal/domain"
	"asamblea/internal/metrics"
)

// DefaultTickInterval is how often countdowns are recomputed
const DefaultTickInterval = time.Second

// FinalizeFunc closes a question whose countdown reached zero
type FinalizeFunc func(ctx context.Context, questionID int64) error

// trackedRecord is an activation record plus its one-shot finalize guard.
// A new record for the same question gets a fresh guard.
type trackedRecord struct {
	record     domain.ActivationRecord
	finalizing bool
	finalized  bool
}

type countdownSub struct {
	questionID int64 // 0 watches every question
	fn         func(domain.Countdown)
}

// Countdown is the session-wide countdown scheduler. Every tracked question
// shares one ticker, and any number of consumers can subscribe to ticks.
type Countdown struct {
	clock    Clock
	finalize FinalizeFunc
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	records map[int64]*trackedRecord
	subs    map[string]countdownSub
	stop    chan struct{} // non-nil while the ticker goroutine runs
	closed  bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// CountdownOption configures a Countdown
type CountdownOption func(*Countdown)

// WithTickInterval sets the tick period. Zero disables the background
// ticker; ticks then only happen through Tick.
func WithTickInterval(d time.Duration) CountdownOption {
	return func(c *Countdown) {
		c.interval = d
	}
}

// WithCountdownMetrics sets the metrics sink
func WithCountdownMetrics(m *metrics.Metrics) CountdownOption {
	return func(c *Countdown) {
		c.metrics = m
	}
}

// NewCountdown creates a scheduler. finalize may be nil for sessions that
// only display countdowns.
func NewCountdown(clock Clock, finalize FinalizeFunc, logger *slog.Logger, opts ...CountdownOption) *Countdown {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Countdown{
		clock:    clock,
		finalize: finalize,
		interval: DefaultTickInterval,
		logger:   logger,
		metrics:  metrics.New(nil),
		records:  make(map[int64]*trackedRecord),
		subs:     make(map[string]countdownSub),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Track anchors a new record for the question at the current instant,
// replacing any previous one
func (c *Countdown) Track(questionID int64, durationSeconds int) domain.ActivationRecord {
	rec := domain.NewActivationRecord(questionID, durationSeconds, c.clock.Now())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return rec
	}
	if _, replaced := c.records[questionID]; !replaced {
		c.metrics.ActiveCountdowns.Inc()
	}
	c.records[questionID] = &trackedRecord{record: rec}
	c.startLocked()

	c.logger.Debug("countdown tracked",
		"questionID", questionID,
		"durationSeconds", durationSeconds,
	)
	return rec
}

// Clear drops the record of a question. The ticker stops with the last record.
func (c *Countdown) Clear(questionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked(questionID)
}

func (c *Countdown) clearLocked(questionID int64) {
	if _, ok := c.records[questionID]; !ok {
		return
	}
	delete(c.records, questionID)
	c.metrics.ActiveCountdowns.Dec()
	if len(c.records) == 0 {
		c.stopLocked()
	}
}

// Has reports whether the question has a record
func (c *Countdown) Has(questionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[questionID]
	return ok
}

// Record returns the record of a question
func (c *Countdown) Record(questionID int64) (domain.ActivationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.records[questionID]
	if !ok {
		return domain.ActivationRecord{}, false
	}
	return tr.record, true
}

// Tracked returns the ids of every tracked question, ascending
func (c *Countdown) Tracked() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Remaining computes the countdown of a question now
func (c *Countdown) Remaining(questionID int64) (domain.Countdown, bool) {
	rec, ok := c.Record(questionID)
	if !ok {
		return domain.Countdown{}, false
	}
	return rec.CountdownAt(c.clock.Now()), true
}

// Running reports whether the background ticker is active
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Subscribe registers fn for the ticks of a question, or of every question
// when questionID is 0. It returns the subscription id.
func (c *Countdown) Subscribe(questionID int64, fn func(domain.Countdown)) string {
	id := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = countdownSub{questionID: questionID, fn: fn}
	return id
}

// Unsubscribe removes a subscription
func (c *Countdown) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Tick recomputes every tracked countdown, notifies subscribers and fires
// the finalizer once for each record that reached zero
func (c *Countdown) Tick(ctx context.Context) {
	now := c.clock.Now()

	c.mu.Lock()
	ids := make([]int64, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ticks := make([]domain.Countdown, 0, len(ids))
	due := make([]*trackedRecord, 0)
	for _, id := range ids {
		tr := c.records[id]
		cd := tr.record.CountdownAt(now)
		ticks = append(ticks, cd)
		if cd.Expired() && c.finalize != nil && !tr.finalizing && !tr.finalized {
			tr.finalizing = true
			due = append(due, tr)
		}
	}
	subs := make([]countdownSub, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, cd := range ticks {
		for _, s := range subs {
			if s.questionID == 0 || s.questionID == cd.QuestionID {
				s.fn(cd)
			}
		}
	}

	for _, tr := range due {
		c.expire(ctx, tr)
	}
}

// expire runs the finalizer for a record. The guard latches only on success
// so a failed attempt is retried by the next tick.
func (c *Countdown) expire(ctx context.Context, tr *trackedRecord) {
	questionID := tr.record.QuestionID

	c.mu.Lock()
	current := c.records[questionID] == tr && !c.closed
	c.mu.Unlock()
	if !current {
		return
	}

	err := c.finalize(ctx, questionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	tr.finalizing = false
	if err != nil {
		c.logger.Warn("auto-finalize failed, retrying on next tick",
			"questionID", questionID,
			"error", err,
		)
		return
	}

	tr.finalized = true
	if c.records[questionID] == tr {
		c.clearLocked(questionID)
	}
}

// Close stops the ticker and drops every record and subscription
func (c *Countdown) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	c.metrics.ActiveCountdowns.Sub(float64(len(c.records)))
	c.records = make(map[int64]*trackedRecord)
	c.subs = make(map[string]countdownSub)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// startLocked launches the ticker goroutine if it is not running
func (c *Countdown) startLocked() {
	if c.interval <= 0 || c.stop != nil || c.closed {
		return
	}
	stop := make(chan struct{})
	c.stop = stop
	c.wg.Add(1)
	go c.run(stop)
}

// stopLocked signals the ticker goroutine to exit
func (c *Countdown) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// run ticks until stopped
func (c *Countdown) run(stop chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Tick(c.ctx)
		}
	}
}
