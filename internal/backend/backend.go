// Package backend defines the remote assembly service the coordinator talks
// to, and an HTTP adapter for it.
package backend

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"asamblea/internal/domain"
)

// ActivationMode is the state requested when opening a question
const ActivationMode = "activa"

// Activation is the server's answer to an activation request
type Activation struct {
	DurationSeconds int
}

// Attendance is the server's answer to a successful attendance registration
type Attendance struct {
	Coefficient decimal.Decimal
	UnitCount   int
	Units       []string
	Document    string
}

// QuorumSnapshot is the quorum state, with the participants changed since the
// requested sync time
type QuorumSnapshot struct {
	Reached      decimal.Decimal
	Required     decimal.Decimal
	Participants []domain.Participant
	Full         bool
	SyncedAt     time.Time
}

// QuestionSource reads questions
type QuestionSource interface {
	ListQuestions(ctx context.Context, assemblyID int64) ([]domain.Question, error)
	ActiveQuestion(ctx context.Context, assemblyID int64) (*domain.ActiveQuestion, error)
}

// QuestionControl changes question state
type QuestionControl interface {
	ActivateQuestion(ctx context.Context, questionID int64, mode string) (Activation, error)
	FinalizeQuestion(ctx context.Context, questionID int64) error
	CancelQuestion(ctx context.Context, questionID int64) error
}

// AttendanceService registers and releases attendance
type AttendanceService interface {
	ValidateAttendance(ctx context.Context, assemblyID int64, identity domain.Identity) (Attendance, error)
	NotifyLeave(ctx context.Context, assemblyID int64, identity domain.Identity) error
}

// Backend is the full remote surface used by a live session
type Backend interface {
	QuestionSource
	QuestionControl
	AttendanceService

	Assembly(ctx context.Context, assemblyID int64) (domain.Assembly, error)
	ChangeAssemblyStatus(ctx context.Context, assemblyID int64, status domain.AssemblyStatus) error
	Results(ctx context.Context, assemblyID int64) ([]domain.QuestionResult, error)
	CastVote(ctx context.Context, questionID, optionID int64) error
	Quorum(ctx context.Context, assemblyID int64, since time.Time) (QuorumSnapshot, error)
}
