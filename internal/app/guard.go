package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"asamblea/internal/backend"
	"asamblea/internal/domain"
	"asamblea/internal/metrics"
)

// prefetchTimeout bounds the background fetch of the active question detail
const prefetchTimeout = 10 * time.Second

// Action names a guarded operation
type Action string

const (
	ActionActivate Action = "activate"
	ActionCancel   Action = "cancel"
	ActionExit     Action = "exit"
)

// Confirmation asks the user to repeat an action with force
type Confirmation struct {
	Action           Action `json:"action"`
	QuestionID       int64  `json:"questionId,omitempty"`
	ActiveQuestionID int64  `json:"activeQuestionId,omitempty"`
	Message          string `json:"message"`
}

// GuardResult is the outcome of a guarded operation that did not fail
type GuardResult struct {
	Confirm *Confirmation
	Record  *domain.ActivationRecord
	Noop    bool
}

// Reloader refetches server state after a mutation
type Reloader interface {
	Reload(ctx context.Context) error
}

// questionLocks serializes operations per question id
type questionLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (l *questionLocks) lock(questionID int64) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*sync.Mutex)
	}
	m, ok := l.locks[questionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[questionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ActivationGuard mediates every state change of a question
type ActivationGuard struct {
	assemblyID int64
	control    backend.QuestionControl
	source     backend.QuestionSource
	registry   *Registry
	reloader   Reloader
	countdown  *Countdown
	logger     *slog.Logger
	metrics    *metrics.Metrics

	locks  questionLocks
	flight singleflight.Group

	// eligible reports whether the session may vote; onPrompt receives the
	// active question after a successful activation when it may
	eligible func() bool
	onPrompt func(*domain.ActiveQuestion)
	prefetch sync.WaitGroup

	// base bounds background fetches; Close cancels it
	base context.Context
	stop context.CancelFunc
}

// NewActivationGuard creates a guard. reloader is called after every
// mutation; a nil reloader falls back to the registry.
func NewActivationGuard(assemblyID int64, be interface {
	backend.QuestionControl
	backend.QuestionSource
}, registry *Registry, reloader Reloader, countdown *Countdown, logger *slog.Logger, m *metrics.Metrics) *ActivationGuard {
	if reloader == nil {
		reloader = registry
	}
	if m == nil {
		m = metrics.New(nil)
	}
	base, stop := context.WithCancel(context.Background())
	return &ActivationGuard{
		base:       base,
		stop:       stop,
		assemblyID: assemblyID,
		control:    be,
		source:     be,
		registry:   registry,
		reloader:   reloader,
		countdown:  countdown,
		logger:     logger,
		metrics:    m,
	}
}

// OnVotePrompt sets the hook that receives the active question after an
// activation, for sessions allowed to vote
func (g *ActivationGuard) OnVotePrompt(eligible func() bool, fn func(*domain.ActiveQuestion)) {
	g.eligible = eligible
	g.onPrompt = fn
}

// Activate opens a question. Without force it refuses while another question
// is active and returns a confirmation request instead.
func (g *ActivationGuard) Activate(ctx context.Context, questionID int64, force bool) (GuardResult, error) {
	unlock := g.locks.lock(questionID)
	defer unlock()

	q, ok := g.registry.Get(questionID)
	if !ok {
		return GuardResult{}, domain.ErrQuestionNotFound
	}
	if !q.State.CanTransitionTo(domain.QuestionActive) {
		return GuardResult{}, fmt.Errorf("activate question %d from %s: %w", questionID, q.State, domain.ErrInvalidTransition)
	}

	if !force {
		if active, ok := g.registry.Active(); ok {
			g.metrics.Activations.WithLabelValues(metrics.OutcomeRefused).Inc()
			return GuardResult{Confirm: activationConfirmation(questionID, active.ID)}, nil
		}
	}

	act, err := g.control.ActivateQuestion(ctx, questionID, backend.ActivationMode)
	if err != nil {
		if !force && backend.CodeOf(err) == backend.CodeQuestionAlreadyActive {
			// Another client opened a question first.
			g.reload(ctx)
			activeID := int64(0)
			if active, ok := g.registry.Active(); ok {
				activeID = active.ID
			}
			g.metrics.Activations.WithLabelValues(metrics.OutcomeRefused).Inc()
			return GuardResult{Confirm: activationConfirmation(questionID, activeID)}, nil
		}
		g.metrics.Activations.WithLabelValues(metrics.OutcomeFailed).Inc()
		return GuardResult{}, fmt.Errorf("activate question %d: %w", questionID, err)
	}

	rec := g.countdown.Track(questionID, act.DurationSeconds)
	g.reload(ctx)
	g.metrics.Activations.WithLabelValues(metrics.OutcomeSuccess).Inc()

	g.logger.Info("question activated",
		"assemblyID", g.assemblyID,
		"questionID", questionID,
		"durationSeconds", act.DurationSeconds,
		"forced", force,
	)

	if g.onPrompt != nil && g.eligible != nil && g.eligible() {
		g.prefetch.Add(1)
		go g.prefetchActive(questionID)
	}

	return GuardResult{Record: &rec}, nil
}

// Finalize closes an active question. Finalizing a question that is already
// closed succeeds without effect.
func (g *ActivationGuard) Finalize(ctx context.Context, questionID int64) (GuardResult, error) {
	return g.finalize(ctx, questionID, metrics.SourceModerator)
}

// finalize shares one in-flight backend call among concurrent callers
func (g *ActivationGuard) finalize(ctx context.Context, questionID int64, source string) (GuardResult, error) {
	v, err, _ := g.flight.Do(strconv.FormatInt(questionID, 10), func() (interface{}, error) {
		unlock := g.locks.lock(questionID)
		defer unlock()

		q, ok := g.registry.Get(questionID)
		if !ok {
			return nil, domain.ErrQuestionNotFound
		}
		if q.State.IsTerminal() {
			g.countdown.Clear(questionID)
			return GuardResult{Noop: true}, nil
		}
		if !q.State.CanTransitionTo(domain.QuestionFinalized) {
			return nil, fmt.Errorf("finalize question %d from %s: %w", questionID, q.State, domain.ErrInvalidTransition)
		}

		noop := false
		if err := g.control.FinalizeQuestion(ctx, questionID); err != nil {
			if backend.CodeOf(err) != backend.CodeQuestionClosed {
				return nil, fmt.Errorf("finalize question %d: %w", questionID, err)
			}
			noop = true
		}

		g.countdown.Clear(questionID)
		g.reload(ctx)

		g.logger.Info("question finalized",
			"assemblyID", g.assemblyID,
			"questionID", questionID,
			"source", source,
		)
		return GuardResult{Noop: noop}, nil
	})

	if err != nil {
		g.metrics.Finalizations.WithLabelValues(source, metrics.OutcomeFailed).Inc()
		return GuardResult{}, err
	}

	res := v.(GuardResult)
	outcome := metrics.OutcomeSuccess
	if res.Noop {
		outcome = metrics.OutcomeNoop
	}
	g.metrics.Finalizations.WithLabelValues(source, outcome).Inc()
	return res, nil
}

// Cancel cancels a scheduled or active question. It always asks for
// confirmation first.
func (g *ActivationGuard) Cancel(ctx context.Context, questionID int64, force bool) (GuardResult, error) {
	unlock := g.locks.lock(questionID)
	defer unlock()

	q, ok := g.registry.Get(questionID)
	if !ok {
		return GuardResult{}, domain.ErrQuestionNotFound
	}
	if q.State.IsTerminal() {
		g.countdown.Clear(questionID)
		g.metrics.Cancellations.WithLabelValues(metrics.OutcomeNoop).Inc()
		return GuardResult{Noop: true}, nil
	}

	if !force {
		g.metrics.Cancellations.WithLabelValues(metrics.OutcomeRefused).Inc()
		return GuardResult{Confirm: &Confirmation{
			Action:     ActionCancel,
			QuestionID: questionID,
			Message:    "¿Seguro que deseas cancelar esta pregunta? Esta acción no se puede deshacer.",
		}}, nil
	}

	noop := false
	if err := g.control.CancelQuestion(ctx, questionID); err != nil {
		if backend.CodeOf(err) != backend.CodeQuestionClosed {
			g.metrics.Cancellations.WithLabelValues(metrics.OutcomeFailed).Inc()
			return GuardResult{}, fmt.Errorf("cancel question %d: %w", questionID, err)
		}
		noop = true
	}

	g.countdown.Clear(questionID)
	g.reload(ctx)
	g.metrics.Cancellations.WithLabelValues(metrics.OutcomeSuccess).Inc()

	g.logger.Info("question cancelled",
		"assemblyID", g.assemblyID,
		"questionID", questionID,
	)
	return GuardResult{Noop: noop}, nil
}

// Wait blocks until background fetches have finished
func (g *ActivationGuard) Wait() {
	g.prefetch.Wait()
}

// Close cancels background fetches and waits for them to return
func (g *ActivationGuard) Close() {
	g.stop()
	g.prefetch.Wait()
}

// reload refetches server state. Failure leaves the previous snapshot.
func (g *ActivationGuard) reload(ctx context.Context) {
	if err := g.reloader.Reload(ctx); err != nil {
		g.logger.Warn("reload after mutation failed",
			"assemblyID", g.assemblyID,
			"error", err,
		)
	}
}

// prefetchActive fetches the active question for the vote prompt. Errors are
// dropped: the prompt is a convenience.
func (g *ActivationGuard) prefetchActive(questionID int64) {
	defer g.prefetch.Done()

	ctx, cancel := context.WithTimeout(g.base, prefetchTimeout)
	defer cancel()

	aq, err := g.source.ActiveQuestion(ctx, g.assemblyID)
	if err != nil {
		g.logger.Debug("active question prefetch failed", "questionID", questionID, "error", err)
		return
	}
	if aq == nil || aq.ID != questionID {
		return
	}
	g.onPrompt(aq)
}

func activationConfirmation(questionID, activeID int64) *Confirmation {
	return &Confirmation{
		Action:           ActionActivate,
		QuestionID:       questionID,
		ActiveQuestionID: activeID,
		Message:          "Ya hay una pregunta activa. ¿Deseas activar esta pregunta de todas formas?",
	}
}
