package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"asamblea/internal/backend"
	"asamblea/internal/domain"
	"asamblea/internal/metrics"
)

// leaveTimeout bounds the background leave notification
const leaveTimeout = 10 * time.Second

// ExitDecision is the answer to an exit request
type ExitDecision string

const (
	ExitAllowed           ExitDecision = "allowed"
	ExitNeedsConfirmation ExitDecision = "needs_confirmation"
)

// ExitGuard keeps voting participants from leaving by accident while a
// question is open
type ExitGuard struct {
	assemblyID int64
	identity   domain.Identity
	registry   *Registry
	observer   func() bool
	notifier   backend.AttendanceService
	navigate   func()
	logger     *slog.Logger
	metrics    *metrics.Metrics

	allowed atomic.Bool
	wg      sync.WaitGroup
}

// NewExitGuard creates a guard. observer reports whether the session carries
// no quorum weight; navigate runs once the exit is allowed.
func NewExitGuard(assemblyID int64, identity domain.Identity, registry *Registry, observer func() bool, notifier backend.AttendanceService, navigate func(), logger *slog.Logger, m *metrics.Metrics) *ExitGuard {
	if m == nil {
		m = metrics.New(nil)
	}
	if navigate == nil {
		navigate = func() {}
	}
	return &ExitGuard{
		assemblyID: assemblyID,
		identity:   identity,
		registry:   registry,
		observer:   observer,
		notifier:   notifier,
		navigate:   navigate,
		logger:     logger,
		metrics:    m,
	}
}

// HasActiveQuestion reports whether any question is open
func (g *ExitGuard) HasActiveQuestion() bool {
	return g.registry.HasActive()
}

// RequestExit decides whether leaving needs confirmation
func (g *ExitGuard) RequestExit() ExitDecision {
	if g.allowed.Load() {
		return ExitAllowed
	}
	if g.observer != nil && g.observer() {
		return ExitAllowed
	}
	if g.HasActiveQuestion() {
		return ExitNeedsConfirmation
	}
	return ExitAllowed
}

// ConfirmExit allows the exit, navigates away and tells the backend the
// participant left. Observers carry no quorum weight and are not reported.
func (g *ExitGuard) ConfirmExit(ctx context.Context) {
	if !g.allowed.CompareAndSwap(false, true) {
		return
	}
	g.navigate()

	if g.observer != nil && g.observer() {
		return
	}

	g.wg.Add(1)
	go g.notifyLeave(context.WithoutCancel(ctx))
}

// Allowed reports whether the exit went through
func (g *ExitGuard) Allowed() bool {
	return g.allowed.Load()
}

// Wait blocks until the leave notification finished
func (g *ExitGuard) Wait() {
	g.wg.Wait()
}

// notifyLeave is best-effort: failure is logged and dropped
func (g *ExitGuard) notifyLeave(ctx context.Context) {
	defer g.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, leaveTimeout)
	defer cancel()

	if err := g.notifier.NotifyLeave(ctx, g.assemblyID, g.identity); err != nil {
		g.metrics.LeaveNotices.WithLabelValues(metrics.OutcomeFailed).Inc()
		g.logger.Warn("leave notification failed",
			"assemblyID", g.assemblyID,
			"error", err,
		)
		return
	}
	g.metrics.LeaveNotices.WithLabelValues(metrics.OutcomeSuccess).Inc()
	g.logger.Debug("leave notified", "assemblyID", g.assemblyID)
}
