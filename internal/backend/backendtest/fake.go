// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"asamblea/internal/backend"
	"asamblea/internal/domain"
)

// Operation names used for call counting and failure injection
const (
	OpList       = "listQuestions"
	OpActivate   = "activateQuestion"
	OpFinalize   = "finalizeQuestion"
	OpCancel     = "cancelQuestion"
	OpActive     = "getActiveQuestion"
	OpResults    = "getResults"
	OpAttendance = "validateAttendance"
	OpStatus     = "changeAssemblyStatus"
	OpLeave      = "notifyLeave"
	OpAssembly   = "getAssembly"
	OpVote       = "castVote"
	OpQuorum     = "quorum"
)

// Fake is an authoritative in-memory backend
type Fake struct {
	mu sync.Mutex

	assembly    domain.Assembly
	questions   map[int64]*domain.Question
	activatedAt map[int64]time.Time
	votes       map[int64]int64
	results     []domain.QuestionResult

	// DurationSeconds is returned by every activation
	DurationSeconds int
	// RejectConcurrentActivation makes activation fail while another question is open
	RejectConcurrentActivation bool
	// RejectClosed makes finalize/cancel of a closed question fail with CodeQuestionClosed
	RejectClosed bool
	// FinalizeGate, when set, holds every finalize call until it is closed
	FinalizeGate chan struct{}

	attendance    map[string]backend.Attendance
	attendanceErr map[string]error
	participants  []domain.Participant

	failures map[string][]error
	calls    map[string]int
	leaves   chan domain.Identity
}

// New creates a fake backend holding the given assembly and questions
func New(assembly domain.Assembly, questions ...domain.Question) *Fake {
	f := &Fake{
		assembly:        assembly,
		questions:       make(map[int64]*domain.Question),
		activatedAt:     make(map[int64]time.Time),
		votes:           make(map[int64]int64),
		DurationSeconds: 60,
		attendance:      make(map[string]backend.Attendance),
		attendanceErr:   make(map[string]error),
		failures:        make(map[string][]error),
		calls:           make(map[string]int),
		leaves:          make(chan domain.Identity, 16),
	}
	for i := range questions {
		q := questions[i]
		if q.AssemblyID == 0 {
			q.AssemblyID = assembly.ID
		}
		f.questions[q.ID] = &q
	}
	return f
}

var _ backend.Backend = (*Fake)(nil)

// FailNext queues an error returned by the next call of op
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls returns how many times op was invoked
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// State returns the authoritative state of a question
func (f *Fake) State(questionID int64) domain.QuestionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.questions[questionID]; ok {
		return q.State
	}
	return ""
}

// SetState changes a question as another client would
func (f *Fake) SetState(questionID int64, state domain.QuestionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.questions[questionID]; ok {
		q.State = state
		if state == domain.QuestionActive {
			f.activatedAt[questionID] = time.Now()
		}
	}
}

// SetAttendance configures the answer for a document
func (f *Fake) SetAttendance(document string, a backend.Attendance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attendance[document] = a
}

// SetAttendanceError configures a failure for a document
func (f *Fake) SetAttendanceError(document string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attendanceErr[document] = err
}

// SetParticipants sets the quorum attendance list
func (f *Fake) SetParticipants(participants ...domain.Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = participants
}

// SetResults sets the results returned by Results
func (f *Fake) SetResults(results ...domain.QuestionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
}

// Leaves delivers every leave notification received
func (f *Fake) Leaves() <-chan domain.Identity {
	return f.leaves
}

// Status returns the assembly status
func (f *Fake) Status() domain.AssemblyStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assembly.Status
}

// begin counts the call and pops a queued failure. Caller holds f.mu.
func (f *Fake) begin(op string) error {
	f.calls[op]++
	if queued := f.failures[op]; len(queued) > 0 {
		f.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

// ListQuestions implements backend.Backend
func (f *Fake) ListQuestions(ctx context.Context, assemblyID int64) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpList); err != nil {
		return nil, err
	}

	// Map iteration order stands in for arbitrary server order.
	out := make([]domain.Question, 0, len(f.questions))
	for _, q := range f.questions {
		out = append(out, *q)
	}
	return out, nil
}

// ActivateQuestion implements backend.Backend
func (f *Fake) ActivateQuestion(ctx context.Context, questionID int64, mode string) (backend.Activation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpActivate); err != nil {
		return backend.Activation{}, err
	}

	q, ok := f.questions[questionID]
	if !ok {
		return backend.Activation{}, &backend.Error{Op: OpActivate, Code: backend.CodeNotFound, Message: "pregunta no encontrada"}
	}
	if f.RejectConcurrentActivation {
		for id, other := range f.questions {
			if id != questionID && other.State == domain.QuestionActive {
				return backend.Activation{}, &backend.Error{Op: OpActivate, Code: backend.CodeQuestionAlreadyActive, Message: "ya hay una pregunta activa"}
			}
		}
	}

	q.State = domain.QuestionActive
	f.activatedAt[questionID] = time.Now()
	return backend.Activation{DurationSeconds: f.DurationSeconds}, nil
}

// FinalizeQuestion implements backend.Backend
func (f *Fake) FinalizeQuestion(ctx context.Context, questionID int64) error {
	f.mu.Lock()
	gate := f.FinalizeGate
	err := f.begin(OpFinalize)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return f.close(OpFinalize, questionID, domain.QuestionFinalized)
}

// CancelQuestion implements backend.Backend
func (f *Fake) CancelQuestion(ctx context.Context, questionID int64) error {
	f.mu.Lock()
	err := f.begin(OpCancel)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.close(OpCancel, questionID, domain.QuestionCancelled)
}

func (f *Fake) close(op string, questionID int64, target domain.QuestionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.questions[questionID]
	if !ok {
		return &backend.Error{Op: op, Code: backend.CodeNotFound, Message: "pregunta no encontrada"}
	}
	if q.State.IsTerminal() {
		if f.RejectClosed {
			return &backend.Error{Op: op, Code: backend.CodeQuestionClosed, Message: "la pregunta ya fue cerrada"}
		}
		return nil
	}
	q.State = target
	return nil
}

// ActiveQuestion implements backend.Backend
func (f *Fake) ActiveQuestion(ctx context.Context, assemblyID int64) (*domain.ActiveQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpActive); err != nil {
		return nil, err
	}

	var active *domain.Question
	for _, q := range f.questions {
		if q.State == domain.QuestionActive && (active == nil || q.ID < active.ID) {
			active = q
		}
	}
	if active == nil {
		return nil, nil
	}

	remaining := f.DurationSeconds - int(time.Since(f.activatedAt[active.ID]).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	_, voted := f.votes[active.ID]
	return &domain.ActiveQuestion{
		Question:         *active,
		RemainingSeconds: remaining,
		AlreadyVoted:     voted,
	}, nil
}

// CastVote implements backend.Backend
func (f *Fake) CastVote(ctx context.Context, questionID, optionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpVote); err != nil {
		return err
	}
	if _, voted := f.votes[questionID]; voted {
		return &backend.Error{Op: OpVote, Code: backend.CodeAlreadyVoted, Message: "ya votó en esta pregunta"}
	}
	f.votes[questionID] = optionID
	return nil
}

// Vote returns the option recorded for a question
func (f *Fake) Vote(questionID int64) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opt, ok := f.votes[questionID]
	return opt, ok
}

// Results implements backend.Backend
func (f *Fake) Results(ctx context.Context, assemblyID int64) ([]domain.QuestionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpResults); err != nil {
		return nil, err
	}
	return append([]domain.QuestionResult(nil), f.results...), nil
}

// Assembly implements backend.Backend
func (f *Fake) Assembly(ctx context.Context, assemblyID int64) (domain.Assembly, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpAssembly); err != nil {
		return domain.Assembly{}, err
	}
	if assemblyID != f.assembly.ID {
		return domain.Assembly{}, &backend.Error{Op: OpAssembly, Code: backend.CodeNotFound, Message: "asamblea no encontrada"}
	}
	return f.assembly, nil
}

// ChangeAssemblyStatus implements backend.Backend
func (f *Fake) ChangeAssemblyStatus(ctx context.Context, assemblyID int64, status domain.AssemblyStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpStatus); err != nil {
		return err
	}
	f.assembly.Status = status
	return nil
}

// ValidateAttendance implements backend.Backend
func (f *Fake) ValidateAttendance(ctx context.Context, assemblyID int64, identity domain.Identity) (backend.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpAttendance); err != nil {
		return backend.Attendance{}, err
	}
	if err, ok := f.attendanceErr[identity.Document]; ok {
		return backend.Attendance{}, err
	}
	if a, ok := f.attendance[identity.Document]; ok {
		return a, nil
	}
	return backend.Attendance{}, &backend.Error{Op: OpAttendance, Code: backend.CodeNoEligibleUnits, Message: "No tienes inmuebles disponibles"}
}

// NotifyLeave implements backend.Backend
func (f *Fake) NotifyLeave(ctx context.Context, assemblyID int64, identity domain.Identity) error {
	f.mu.Lock()
	err := f.begin(OpLeave)
	f.mu.Unlock()

	select {
	case f.leaves <- identity:
	default:
	}
	return err
}

// Quorum implements backend.Backend
func (f *Fake) Quorum(ctx context.Context, assemblyID int64, since time.Time) (backend.QuorumSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpQuorum); err != nil {
		return backend.QuorumSnapshot{}, err
	}

	changed := make([]domain.Participant, 0, len(f.participants))
	for _, p := range f.participants {
		if since.IsZero() || p.UpdatedAt.After(since) {
			changed = append(changed, p)
		}
	}
	return backend.QuorumSnapshot{
		Reached:      f.assembly.QuorumReached,
		Required:     f.assembly.QuorumRequired,
		Participants: changed,
		Full:         since.IsZero(),
		SyncedAt:     time.Now(),
	}, nil
}

// Question builds a scheduled yes/no question
func Question(id int64) domain.Question {
	return domain.Question{
		ID:    id,
		Text:  "¿Aprueba el punto?",
		Kind:  domain.KindYesNo,
		State: domain.QuestionScheduled,
		Options: []domain.Option{
			{ID: id*10 + 1, Text: "Sí"},
			{ID: id*10 + 2, Text: "No"},
		},
	}
}

// Representative builds a successful attendance answer
func Representative(coefficient string, units ...string) backend.Attendance {
	return backend.Attendance{
		Coefficient: decimal.RequireFromString(coefficient),
		UnitCount:   len(units),
		Units:       units,
	}
}
