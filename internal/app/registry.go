package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"asamblea/internal/backend"
	"asamblea/internal/domain"
)

// Registry holds the questions of an assembly as last reported by the
// server. It never changes a question's state on its own; every change comes
// from a reload.
type Registry struct {
	assemblyID int64
	source     backend.QuestionSource
	logger     *slog.Logger

	mu        sync.RWMutex
	questions []domain.Question
	loadedAt  time.Time

	// started numbers each fetch; stored is the number of the snapshot held.
	// A fetch older than the held snapshot is dropped.
	started uint64
	stored  uint64
}

// NewRegistry creates an empty registry for an assembly
func NewRegistry(assemblyID int64, source backend.QuestionSource, logger *slog.Logger) *Registry {
	return &Registry{
		assemblyID: assemblyID,
		source:     source,
		logger:     logger,
		questions:  make([]domain.Question, 0),
	}
}

// Reload refetches the question list and replaces the cached one, unless a
// fetch started later has already been stored
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	r.started++
	generation := r.started
	r.mu.Unlock()

	questions, err := r.source.ListQuestions(ctx, r.assemblyID)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	domain.SortByID(questions)
	for i := range questions {
		if err := questions[i].Validate(); err != nil {
			r.logger.Warn("question options violate invariants",
				"assemblyID", r.assemblyID,
				"questionID", questions[i].ID,
				"error", err,
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if generation < r.stored {
		r.logger.Debug("dropping outdated question list",
			"assemblyID", r.assemblyID,
			"generation", generation,
			"stored", r.stored,
		)
		return nil
	}
	r.stored = generation
	r.questions = questions
	r.loadedAt = time.Now()

	return nil
}

// Questions returns the questions ascending by id
func (r *Registry) Questions() []domain.Question {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Question, len(r.questions))
	copy(out, r.questions)
	return out
}

// DisplayOrder returns the questions in presentation order
func (r *Registry) DisplayOrder() []domain.Question {
	out := r.Questions()
	domain.SortForDisplay(out)
	return out
}

// Get returns a question by id
func (r *Registry) Get(questionID int64) (domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, q := range r.questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return domain.Question{}, false
}

// Active returns the lowest-id active question
func (r *Registry) Active() (domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.FindActive(r.questions)
}

// HasActive reports whether any question is active
func (r *Registry) HasActive() bool {
	_, ok := r.Active()
	return ok
}

// LoadedAt returns when the list was last refetched
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}
