package app

import (
	"context"
	"log/slog"

	"asamblea/internal/metrics"
)

// AutoFinalizer closes questions whose countdown expired, through the same
// path as the moderator. A question the moderator already closed counts as
// finalized.
type AutoFinalizer struct {
	guard  *ActivationGuard
	logger *slog.Logger
}

// NewAutoFinalizer creates an auto-finalizer
func NewAutoFinalizer(guard *ActivationGuard, logger *slog.Logger) *AutoFinalizer {
	return &AutoFinalizer{guard: guard, logger: logger}
}

// Finalize implements FinalizeFunc
func (f *AutoFinalizer) Finalize(ctx context.Context, questionID int64) error {
	res, err := f.guard.finalize(ctx, questionID, metrics.SourceAuto)
	if err != nil {
		return err
	}
	if res.Noop {
		f.logger.Debug("expired question was already closed", "questionID", questionID)
	}
	return nil
}
