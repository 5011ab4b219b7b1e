package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"asamblea/internal/backend"
	"asamblea/internal/cache"
	"asamblea/internal/domain"
	"asamblea/internal/metrics"
)

// AttendanceKind is the outcome class of an attendance registration
type AttendanceKind string

const (
	AttendanceRepresentative AttendanceKind = "representative"
	AttendanceObserver       AttendanceKind = "observer"
	AttendanceDuplicate      AttendanceKind = "duplicate"
	AttendanceFailed         AttendanceKind = "failed"
)

// AttendanceOutcome is the result of registering attendance
type AttendanceOutcome struct {
	Kind         AttendanceKind
	Registration *domain.Registration
	Notice       domain.Notice
	Err          error

	retry func(ctx context.Context) AttendanceOutcome
}

// Entered reports whether the session may enter the assembly
func (o AttendanceOutcome) Entered() bool {
	return o.Kind == AttendanceRepresentative || o.Kind == AttendanceObserver
}

// Retryable reports whether Retry may be called
func (o AttendanceOutcome) Retryable() bool {
	return o.Kind == AttendanceFailed && o.retry != nil
}

// Retry re-invokes the same registration. Only failed outcomes can be retried;
// a duplicate registration can only be dismissed.
func (o AttendanceOutcome) Retry(ctx context.Context) (AttendanceOutcome, error) {
	if !o.Retryable() {
		return o, domain.ErrNotRetryable
	}
	return o.retry(ctx), nil
}

// AttendanceRegistrar registers the session's attendance with the backend
type AttendanceRegistrar struct {
	service  backend.AttendanceService
	store    *cache.Store
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewAttendanceRegistrar creates a registrar. store may be nil, in which
// case proxy credentials are not persisted.
func NewAttendanceRegistrar(service backend.AttendanceService, store *cache.Store, logger *slog.Logger, m *metrics.Metrics) *AttendanceRegistrar {
	if m == nil {
		m = metrics.New(nil)
	}
	return &AttendanceRegistrar{
		service:  service,
		store:    store,
		validate: validator.New(),
		logger:   logger,
		metrics:  m,
	}
}

// Register validates the identity and registers attendance. Backend failures
// are reported in the outcome; only an invalid identity is returned as an
// error, before any backend call.
func (r *AttendanceRegistrar) Register(ctx context.Context, assemblyID int64, identity domain.Identity) (AttendanceOutcome, error) {
	if err := r.validate.Struct(identity); err != nil {
		return AttendanceOutcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}
	return r.register(ctx, assemblyID, identity), nil
}

func (r *AttendanceRegistrar) register(ctx context.Context, assemblyID int64, identity domain.Identity) AttendanceOutcome {
	att, err := r.service.ValidateAttendance(ctx, assemblyID, identity)
	if err != nil {
		return r.failure(assemblyID, identity, err)
	}

	if att.UnitCount <= 0 {
		// Accepted without voting weight.
		return r.observer(assemblyID, identity)
	}

	if identity.IsProxy() && r.store != nil {
		if err := r.store.SaveIdentity(identity); err != nil {
			r.logger.Warn("failed to cache proxy identity",
				"assemblyID", assemblyID,
				"error", err,
			)
		}
	}

	document := att.Document
	if document == "" {
		document = identity.Document
	}
	reg := &domain.Registration{
		AssemblyID:   assemblyID,
		Document:     document,
		Coefficient:  att.Coefficient,
		UnitCount:    att.UnitCount,
		Units:        append([]string(nil), att.Units...),
		ObserverMode: false,
		RegisteredAt: time.Now(),
	}

	r.metrics.Registrations.WithLabelValues(string(AttendanceRepresentative)).Inc()
	r.logger.Info("attendance registered",
		"assemblyID", assemblyID,
		"unitCount", reg.UnitCount,
		"coefficient", reg.Coefficient.String(),
		"proxy", identity.IsProxy(),
	)

	return AttendanceOutcome{
		Kind:         AttendanceRepresentative,
		Registration: reg,
		Notice:       domain.Success(fmt.Sprintf("Asistencia registrada. Coeficiente %s%%, %d inmueble(s).", reg.Coefficient.String(), reg.UnitCount)),
	}
}

func (r *AttendanceRegistrar) observer(assemblyID int64, identity domain.Identity) AttendanceOutcome {
	r.metrics.Registrations.WithLabelValues(string(AttendanceObserver)).Inc()
	r.logger.Info("attendance registered as observer", "assemblyID", assemblyID)

	return AttendanceOutcome{
		Kind:         AttendanceObserver,
		Registration: domain.NewObserverRegistration(assemblyID, identity.Document),
		Notice:       domain.Warning("No tienes inmuebles disponibles para votar. Ingresas como observador."),
	}
}

func (r *AttendanceRegistrar) failure(assemblyID int64, identity domain.Identity, err error) AttendanceOutcome {
	switch backend.CodeOf(err) {
	case backend.CodeNoEligibleUnits:
		return r.observer(assemblyID, identity)

	case backend.CodeDuplicateRegistration:
		r.metrics.Registrations.WithLabelValues(string(AttendanceDuplicate)).Inc()
		r.logger.Warn("duplicate attendance registration", "assemblyID", assemblyID)
		return AttendanceOutcome{
			Kind:   AttendanceDuplicate,
			Notice: domain.Failure("Este inmueble ya fue registrado en la asamblea por otro participante."),
			Err:    fmt.Errorf("%w: %v", domain.ErrDuplicateRegistration, err),
		}
	}

	r.metrics.Registrations.WithLabelValues(string(AttendanceFailed)).Inc()
	r.logger.Error("attendance registration failed",
		"assemblyID", assemblyID,
		"error", err,
	)

	return AttendanceOutcome{
		Kind:   AttendanceFailed,
		Notice: domain.Failure(failureMessage("No se pudo registrar la asistencia", err)),
		Err:    err,
		retry: func(ctx context.Context) AttendanceOutcome {
			return r.register(ctx, assemblyID, identity)
		},
	}
}

// failureMessage builds a user-facing message for a failed backend call
func failureMessage(prefix string, err error) string {
	switch {
	case backend.IsTimeout(err):
		return prefix + ": el servidor no respondió a tiempo. Intenta de nuevo."
	case errors.Is(err, context.Canceled):
		return prefix + ": la operación fue cancelada."
	}
	if msg := backend.MessageOf(err); msg != "" {
		return prefix + ": " + msg
	}
	return prefix + ". Intenta de nuevo."
}
