package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"asamblea/internal/backend"
	"asamblea/internal/cache"
	"asamblea/internal/domain"
	"asamblea/internal/metrics"
)

// DefaultRefreshInterval is how often a session refetches the question list
const DefaultRefreshInterval = 10 * time.Second

// backgroundTimeout bounds calls made by background loops
const backgroundTimeout = 10 * time.Second

// Subscriber represents a connected client of a live session
type Subscriber interface {
	Send(message interface{}) error
	ID() string
	Close() error
}

// SessionConfig describes a live session
type SessionConfig struct {
	AssemblyID int64
	Identity   domain.Identity
	Role       domain.Role

	// TickInterval is the countdown period; zero disables the background ticker
	TickInterval time.Duration
	// RefreshInterval is the registry refresh period; zero disables it
	RefreshInterval time.Duration

	// Navigate runs when an exit is allowed
	Navigate func()
}

// Outcome is the user-facing result of a session action. It carries either
// a notice or a confirmation request; Err is set when the action failed.
type Outcome struct {
	Notice  *domain.Notice           `json:"notice,omitempty"`
	Confirm *Confirmation            `json:"confirm,omitempty"`
	Record  *domain.ActivationRecord `json:"record,omitempty"`
	Err     error                    `json:"-"`
}

// NeedsConfirmation reports whether the action must be repeated with force
func (o Outcome) NeedsConfirmation() bool {
	return o.Confirm != nil
}

// QuestionView is a question with its running countdown, if any
type QuestionView struct {
	domain.Question
	Countdown *domain.CountdownPayload `json:"countdown,omitempty"`
}

// LiveSession coordinates one participant's view of an assembly: questions,
// countdowns, attendance and exit
type LiveSession struct {
	cfg     SessionConfig
	backend backend.Backend
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	registry  *Registry
	countdown *Countdown
	guard     *ActivationGuard
	finalizer *AutoFinalizer
	registrar *AttendanceRegistrar
	quorum    *QuorumTracker
	exit      *ExitGuard

	mu           sync.RWMutex
	registration *domain.Registration
	attendance   AttendanceOutcome
	entered      bool
	exited       bool
	createdAt    time.Time
	lastActivity time.Time
	prompted     map[int64]bool

	clients   map[string]Subscriber
	watches   map[string]string // clientID -> countdown subscription
	clientsMu sync.RWMutex

	// Event channel for broadcasting
	events chan *domain.Event
	done   chan struct{}
	loops  sync.WaitGroup
	start  sync.Once
}

// NewLiveSession creates a session. store may be nil.
func NewLiveSession(cfg SessionConfig, be backend.Backend, store *cache.Store, clock Clock, logger *slog.Logger, m *metrics.Metrics) *LiveSession {
	if clock == nil {
		clock = SystemClock
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.Role == "" {
		cfg.Role = domain.RoleRepresentative
	}

	now := time.Now()
	s := &LiveSession{
		cfg:          cfg,
		backend:      be,
		clock:        clock,
		logger:       logger,
		metrics:      m,
		createdAt:    now,
		lastActivity: now,
		prompted:     make(map[int64]bool),
		clients:      make(map[string]Subscriber),
		watches:      make(map[string]string),
		events:       make(chan *domain.Event, 100),
		done:         make(chan struct{}),
	}

	// Only the moderator's session closes expired questions.
	var finalize FinalizeFunc
	if cfg.Role.IsModerator() {
		finalize = s.autoFinalize
	}

	s.registry = NewRegistry(cfg.AssemblyID, be, logger)
	s.countdown = NewCountdown(clock, finalize, logger,
		WithTickInterval(cfg.TickInterval),
		WithCountdownMetrics(m),
	)
	s.guard = NewActivationGuard(cfg.AssemblyID, be, s.registry, s, s.countdown, logger, m)
	s.guard.OnVotePrompt(s.CanVote, s.promptVote)
	s.finalizer = NewAutoFinalizer(s.guard, logger)
	s.registrar = NewAttendanceRegistrar(be, store, logger, m)
	s.quorum = NewQuorumTracker(cfg.AssemblyID, be, store, logger)
	s.exit = NewExitGuard(cfg.AssemblyID, cfg.Identity, s.registry, s.withoutWeight, be, cfg.Navigate, logger, m)

	// Start event broadcaster
	go s.eventLoop()

	return s
}

// AssemblyID returns the assembly of the session
func (s *LiveSession) AssemblyID() int64 {
	return s.cfg.AssemblyID
}

// Role returns the session role
func (s *LiveSession) Role() domain.Role {
	return s.cfg.Role
}

// CreatedAt returns when the session was created
func (s *LiveSession) CreatedAt() time.Time {
	return s.createdAt
}

// LastActivity returns when the last action ran
func (s *LiveSession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Entered reports whether attendance was accepted
func (s *LiveSession) Entered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entered
}

// Exited reports whether the participant left
func (s *LiveSession) Exited() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exited
}

// Registration returns the attendance record, nil before entering
func (s *LiveSession) Registration() *domain.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registration
}

// CanVote reports whether the session carries voting weight
func (s *LiveSession) CanVote() bool {
	return s.Registration().CanVote()
}

func (s *LiveSession) isObserver() bool {
	reg := s.Registration()
	return reg != nil && reg.ObserverMode
}

// withoutWeight reports whether leaving changes nothing on the server: the
// session never entered or entered as an observer
func (s *LiveSession) withoutWeight() bool {
	return !s.Entered() || s.isObserver()
}

func (s *LiveSession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Enter registers attendance and loads the questions. The observer role
// enters without voting weight. A moderator holding units registers like a
// representative and votes; the moderator keeps control of the questions
// even when the registration fails.
func (s *LiveSession) Enter(ctx context.Context) Outcome {
	s.touch()
	if s.Exited() {
		return s.failed("No se pudo ingresar", domain.ErrSessionClosed)
	}

	switch s.cfg.Role {
	case domain.RoleModerator:
		return s.enterModerator(ctx)

	case domain.RoleObserver:
		reg := domain.NewObserverRegistration(s.cfg.AssemblyID, s.cfg.Identity.Document)
		return s.enter(ctx, reg, domain.Success("Ingresaste como observador."))
	}

	out, err := s.registrar.Register(ctx, s.cfg.AssemblyID, s.cfg.Identity)
	if err != nil {
		return s.failed("No se pudo registrar la asistencia", err)
	}
	return s.attend(ctx, out)
}

func (s *LiveSession) enterModerator(ctx context.Context) Outcome {
	if s.cfg.Identity.Document == "" {
		return s.enter(ctx, nil, domain.Success("Ingresaste como moderador."))
	}

	out, err := s.registrar.Register(ctx, s.cfg.AssemblyID, s.cfg.Identity)
	if err == nil && out.Entered() {
		return s.attend(ctx, out)
	}

	if err == nil {
		err = out.Err
	}
	s.logger.Warn("moderator attendance not registered",
		"assemblyID", s.cfg.AssemblyID,
		"error", err,
	)
	return s.enter(ctx, nil, domain.Warning(failureMessage("Ingresaste como moderador sin derecho a voto", err)))
}

// RetryEnter repeats a failed attendance registration
func (s *LiveSession) RetryEnter(ctx context.Context) Outcome {
	s.touch()

	s.mu.RLock()
	last := s.attendance
	s.mu.RUnlock()

	out, err := last.Retry(ctx)
	if err != nil {
		return s.failed("No se puede reintentar el registro", err)
	}
	return s.attend(ctx, out)
}

// attend stores an attendance outcome and enters when it allows
func (s *LiveSession) attend(ctx context.Context, out AttendanceOutcome) Outcome {
	s.mu.Lock()
	s.attendance = out
	s.mu.Unlock()

	if !out.Entered() {
		notice := out.Notice
		return Outcome{Notice: &notice, Err: out.Err}
	}
	return s.enter(ctx, out.Registration, out.Notice)
}

func (s *LiveSession) enter(ctx context.Context, reg *domain.Registration, notice domain.Notice) Outcome {
	s.mu.Lock()
	s.registration = reg
	s.entered = true
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("initial question load failed",
			"assemblyID", s.cfg.AssemblyID,
			"error", err,
		)
		notice = domain.Warning(failureMessage("Ingresaste, pero no se pudieron cargar las preguntas", err))
	}

	s.queueEvent(domain.NewEvent(domain.EventSessionEntered, s.cfg.AssemblyID, reg))
	s.start.Do(s.startLoops)

	s.logger.Info("session entered",
		"assemblyID", s.cfg.AssemblyID,
		"role", s.cfg.Role,
		"canVote", reg.CanVote(),
	)
	return Outcome{Notice: &notice}
}

// Reload refetches the question list and reconciles countdowns with it.
// Records of questions that are no longer active are dropped; an active
// question without a record gets one from the server's remaining time.
func (s *LiveSession) Reload(ctx context.Context) error {
	if err := s.registry.Reload(ctx); err != nil {
		return err
	}

	for _, id := range s.countdown.Tracked() {
		if q, ok := s.registry.Get(id); !ok || q.State != domain.QuestionActive {
			s.countdown.Clear(id)
		}
	}

	if active, ok := s.registry.Active(); ok && !s.countdown.Has(active.ID) {
		s.discoverActive(ctx)
	}

	payload := &domain.RegistryPayload{Questions: s.registry.DisplayOrder()}
	if active, ok := s.registry.Active(); ok {
		payload.ActiveQuestionID = active.ID
	}
	s.queueEvent(domain.NewEvent(domain.EventRegistryReloaded, s.cfg.AssemblyID, payload))
	return nil
}

// discoverActive anchors a record for a question activated elsewhere.
// Failure is logged and dropped.
func (s *LiveSession) discoverActive(ctx context.Context) {
	aq, err := s.backend.ActiveQuestion(ctx, s.cfg.AssemblyID)
	if err != nil {
		s.logger.Debug("active question discovery failed",
			"assemblyID", s.cfg.AssemblyID,
			"error", err,
		)
		return
	}
	if aq == nil || s.countdown.Has(aq.ID) {
		return
	}
	if q, ok := s.registry.Get(aq.ID); !ok || q.State != domain.QuestionActive {
		return
	}

	rec := s.countdown.Track(aq.ID, aq.RemainingSeconds)
	s.queueEvent(domain.NewQuestionEvent(domain.EventQuestionActivated, s.cfg.AssemblyID, aq.ID, &domain.ActivationPayload{
		Record:    rec,
		Countdown: rec.CountdownAt(s.clock.Now()),
	}))

	if !aq.AlreadyVoted && s.CanVote() {
		s.promptVote(aq)
	}
}

// promptVote asks the participant to vote, once per question
func (s *LiveSession) promptVote(aq *domain.ActiveQuestion) {
	s.mu.Lock()
	if s.prompted[aq.ID] {
		s.mu.Unlock()
		return
	}
	s.prompted[aq.ID] = true
	s.mu.Unlock()

	s.queueEvent(domain.NewQuestionEvent(domain.EventVotePrompt, s.cfg.AssemblyID, aq.ID, aq))
}

// Questions returns the questions in display order with their countdowns
func (s *LiveSession) Questions() []QuestionView {
	questions := s.registry.DisplayOrder()
	out := make([]QuestionView, 0, len(questions))
	for _, q := range questions {
		view := QuestionView{Question: q}
		if cd, ok := s.countdown.Remaining(q.ID); ok {
			view.Countdown = domain.NewCountdownPayload(cd)
		}
		out = append(out, view)
	}
	return out
}

// Countdown returns the running countdown of a question
func (s *LiveSession) Countdown(questionID int64) (domain.Countdown, bool) {
	return s.countdown.Remaining(questionID)
}

// Activate opens a question
func (s *LiveSession) Activate(ctx context.Context, questionID int64, force bool) Outcome {
	s.touch()
	if !s.cfg.Role.IsModerator() {
		return s.failed("No se pudo activar la pregunta", domain.ErrNotModerator)
	}

	res, err := s.guard.Activate(ctx, questionID, force)
	if err != nil {
		return s.failed("No se pudo activar la pregunta", err)
	}
	if res.Confirm != nil {
		return Outcome{Confirm: res.Confirm}
	}

	s.queueEvent(domain.NewQuestionEvent(domain.EventQuestionActivated, s.cfg.AssemblyID, questionID, &domain.ActivationPayload{
		Record:    *res.Record,
		Countdown: res.Record.CountdownAt(s.clock.Now()),
	}))
	notice := domain.Success("Pregunta activada.")
	return Outcome{Notice: &notice, Record: res.Record}
}

// Finalize closes a question
func (s *LiveSession) Finalize(ctx context.Context, questionID int64) Outcome {
	s.touch()
	if !s.cfg.Role.IsModerator() {
		return s.failed("No se pudo finalizar la pregunta", domain.ErrNotModerator)
	}

	res, err := s.guard.Finalize(ctx, questionID)
	if err != nil {
		return s.failed("No se pudo finalizar la pregunta", err)
	}

	if !res.Noop {
		s.queueEvent(domain.NewQuestionEvent(domain.EventQuestionFinalized, s.cfg.AssemblyID, questionID, nil))
	}
	notice := domain.Success("Pregunta finalizada.")
	return Outcome{Notice: &notice}
}

// autoFinalize is the countdown finalizer of moderator sessions
func (s *LiveSession) autoFinalize(ctx context.Context, questionID int64) error {
	if err := s.finalizer.Finalize(ctx, questionID); err != nil {
		return err
	}
	s.queueEvent(domain.NewQuestionEvent(domain.EventQuestionFinalized, s.cfg.AssemblyID, questionID, nil))
	notice := domain.Success("El tiempo de votación terminó. Pregunta finalizada.")
	s.queueEvent(domain.NewQuestionEvent(domain.EventNotice, s.cfg.AssemblyID, questionID, &notice))
	return nil
}

// Cancel cancels a question after confirmation
func (s *LiveSession) Cancel(ctx context.Context, questionID int64, force bool) Outcome {
	s.touch()
	if !s.cfg.Role.IsModerator() {
		return s.failed("No se pudo cancelar la pregunta", domain.ErrNotModerator)
	}

	res, err := s.guard.Cancel(ctx, questionID, force)
	if err != nil {
		return s.failed("No se pudo cancelar la pregunta", err)
	}
	if res.Confirm != nil {
		return Outcome{Confirm: res.Confirm}
	}

	if !res.Noop {
		s.queueEvent(domain.NewQuestionEvent(domain.EventQuestionCancelled, s.cfg.AssemblyID, questionID, nil))
	}
	notice := domain.Success("Pregunta cancelada.")
	return Outcome{Notice: &notice}
}

// CastVote votes on the active question
func (s *LiveSession) CastVote(ctx context.Context, questionID, optionID int64) Outcome {
	s.touch()

	reg := s.Registration()
	switch {
	case reg == nil:
		return s.failed("No se pudo registrar el voto", domain.ErrNotRegistered)
	case !reg.CanVote():
		return s.failed("No se pudo registrar el voto", domain.ErrObserverCannotVote)
	}

	q, ok := s.registry.Get(questionID)
	switch {
	case !ok:
		return s.failed("No se pudo registrar el voto", domain.ErrQuestionNotFound)
	case !q.IsActive():
		return s.failed("No se pudo registrar el voto", domain.ErrQuestionNotActive)
	case !q.HasOption(optionID):
		return s.failed("No se pudo registrar el voto", domain.ErrInvalidOption)
	}

	if err := s.backend.CastVote(ctx, questionID, optionID); err != nil {
		switch backend.CodeOf(err) {
		case backend.CodeAlreadyVoted:
			err = fmt.Errorf("%w: %v", domain.ErrAlreadyVoted, err)
		case backend.CodeQuestionClosed:
			// Closed on the server before the local countdown ran out.
			err = fmt.Errorf("%w: %v", domain.ErrQuestionNotActive, err)
			if rerr := s.Reload(ctx); rerr != nil {
				s.logger.Warn("reload after closed vote failed", "assemblyID", s.cfg.AssemblyID, "error", rerr)
			}
		}
		s.metrics.Votes.WithLabelValues(metrics.OutcomeFailed).Inc()
		return s.failed("No se pudo registrar el voto", err)
	}
	s.metrics.Votes.WithLabelValues(metrics.OutcomeSuccess).Inc()

	s.queueEvent(domain.NewQuestionEvent(domain.EventVoteCast, s.cfg.AssemblyID, questionID, &domain.VotePayload{
		Ballot: domain.NewBallot(questionID, optionID),
	}))
	s.logger.Info("vote cast",
		"assemblyID", s.cfg.AssemblyID,
		"questionID", questionID,
	)

	notice := domain.Success("Tu voto fue registrado.")
	return Outcome{Notice: &notice}
}

// ActiveQuestion fetches the active question detail
func (s *LiveSession) ActiveQuestion(ctx context.Context) (*domain.ActiveQuestion, Outcome) {
	s.touch()

	aq, err := s.backend.ActiveQuestion(ctx, s.cfg.AssemblyID)
	if err != nil {
		return nil, s.failed("No se pudo consultar la pregunta activa", err)
	}
	if aq == nil {
		notice := domain.Warning("No hay ninguna pregunta activa en este momento.")
		return nil, Outcome{Notice: &notice}
	}
	notice := domain.Success("Pregunta activa cargada.")
	return aq, Outcome{Notice: &notice}
}

// Results fetches the results of every question of the assembly
func (s *LiveSession) Results(ctx context.Context) ([]domain.QuestionResult, error) {
	s.touch()
	return s.backend.Results(ctx, s.cfg.AssemblyID)
}

// Quorum refreshes the quorum summary
func (s *LiveSession) Quorum(ctx context.Context) (domain.QuorumInfo, error) {
	s.touch()

	info, err := s.quorum.Refresh(ctx)
	if err != nil {
		return domain.QuorumInfo{}, err
	}
	s.queueEvent(domain.NewEvent(domain.EventQuorumUpdated, s.cfg.AssemblyID, &info))
	return info, nil
}

// ChangeAssemblyStatus moves the assembly to another status. Finishing the
// assembly drops the cached participant list.
func (s *LiveSession) ChangeAssemblyStatus(ctx context.Context, status domain.AssemblyStatus) Outcome {
	s.touch()
	if !s.cfg.Role.IsModerator() {
		return s.failed("No se pudo cambiar el estado de la asamblea", domain.ErrNotModerator)
	}

	a, err := s.backend.Assembly(ctx, s.cfg.AssemblyID)
	if err != nil {
		return s.failed("No se pudo cambiar el estado de la asamblea", err)
	}
	if !a.Status.CanTransitionTo(status) {
		return s.failed("No se pudo cambiar el estado de la asamblea",
			fmt.Errorf("%w: %s to %s", domain.ErrInvalidStatus, a.Status, status))
	}

	if err := s.backend.ChangeAssemblyStatus(ctx, s.cfg.AssemblyID, status); err != nil {
		return s.failed("No se pudo cambiar el estado de la asamblea", err)
	}

	if status == domain.AssemblyFinished {
		if err := s.quorum.Clear(); err != nil {
			s.logger.Warn("failed to clear participant cache", "assemblyID", s.cfg.AssemblyID, "error", err)
		}
	}

	s.queueEvent(domain.NewEvent(domain.EventAssemblyStatus, s.cfg.AssemblyID, &domain.StatusPayload{Status: status}))
	s.logger.Info("assembly status changed",
		"assemblyID", s.cfg.AssemblyID,
		"from", a.Status,
		"to", status,
	)

	notice := domain.Success("Estado de la asamblea actualizado.")
	return Outcome{Notice: &notice}
}

// Exit leaves the assembly. While a question is active a voting participant
// must confirm first.
func (s *LiveSession) Exit(ctx context.Context, confirm bool) Outcome {
	s.touch()

	if s.exit.RequestExit() == ExitNeedsConfirmation && !confirm {
		c := &Confirmation{
			Action:  ActionExit,
			Message: "Hay una votación en curso. Si sales no podrás votar. ¿Deseas salir?",
		}
		if active, ok := s.registry.Active(); ok {
			c.ActiveQuestionID = active.ID
		}
		return Outcome{Confirm: c}
	}

	s.exit.ConfirmExit(ctx)

	s.mu.Lock()
	s.exited = true
	s.mu.Unlock()

	s.queueEvent(domain.NewEvent(domain.EventSessionExited, s.cfg.AssemblyID, nil))
	s.logger.Info("session exited", "assemblyID", s.cfg.AssemblyID)

	notice := domain.Success("Saliste de la asamblea.")
	return Outcome{Notice: &notice}
}

// failed builds an error outcome
func (s *LiveSession) failed(prefix string, err error) Outcome {
	s.logger.Debug("session action failed",
		"assemblyID", s.cfg.AssemblyID,
		"action", prefix,
		"error", err,
	)
	notice := domain.Failure(errorMessage(prefix, err))
	return Outcome{Notice: &notice, Err: err}
}

// errorMessage maps an error to a user-facing message
func errorMessage(prefix string, err error) string {
	switch {
	case errors.Is(err, domain.ErrNotModerator):
		return "Solo el moderador puede realizar esta acción."
	case errors.Is(err, domain.ErrQuestionNotFound):
		return prefix + ": la pregunta no existe."
	case errors.Is(err, domain.ErrInvalidTransition):
		return prefix + ": la pregunta no está en un estado que lo permita."
	case errors.Is(err, domain.ErrQuestionNotActive):
		return prefix + ": la pregunta no está activa."
	case errors.Is(err, domain.ErrInvalidOption):
		return prefix + ": la opción no pertenece a la pregunta."
	case errors.Is(err, domain.ErrObserverCannotVote):
		return "Ingresaste como observador y no puedes votar."
	case errors.Is(err, domain.ErrAlreadyVoted):
		return "Ya votaste en esta pregunta."
	case errors.Is(err, domain.ErrNotRegistered):
		return prefix + ": primero debes registrar tu asistencia."
	case errors.Is(err, domain.ErrSessionClosed):
		return prefix + ": ya saliste de la asamblea."
	case errors.Is(err, domain.ErrInvalidStatus):
		return prefix + ": la asamblea no puede pasar a ese estado."
	case errors.Is(err, domain.ErrInvalidIdentity):
		return prefix + ": los datos de ingreso están incompletos."
	case errors.Is(err, domain.ErrNotRetryable):
		return prefix + "."
	}
	return failureMessage(prefix, err)
}

// WatchCountdown streams the ticks of a question to one client. A question
// id of 0 streams every tracked question.
func (s *LiveSession) WatchCountdown(clientID string, questionID int64) {
	subID := s.countdown.Subscribe(questionID, func(cd domain.Countdown) {
		event := domain.NewQuestionEvent(domain.EventCountdownTick, s.cfg.AssemblyID, cd.QuestionID, domain.NewCountdownPayload(cd))
		event.Target = clientID
		s.queueEvent(event)
	})

	s.clientsMu.Lock()
	previous, had := s.watches[clientID]
	s.watches[clientID] = subID
	s.clientsMu.Unlock()

	if had {
		s.countdown.Unsubscribe(previous)
	}
}

// UnwatchCountdown stops the ticks sent to a client
func (s *LiveSession) UnwatchCountdown(clientID string) {
	s.clientsMu.Lock()
	subID, ok := s.watches[clientID]
	delete(s.watches, clientID)
	s.clientsMu.Unlock()

	if ok {
		s.countdown.Unsubscribe(subID)
	}
}

// RegisterClient registers a client connection
func (s *LiveSession) RegisterClient(client Subscriber) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[client.ID()] = client
}

// UnregisterClient removes a client connection and its countdown watch
func (s *LiveSession) UnregisterClient(clientID string) {
	s.UnwatchCountdown(clientID)

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, clientID)
}

// ClientCount returns the number of connected clients
func (s *LiveSession) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// startLoops launches the periodic refresh
func (s *LiveSession) startLoops() {
	if s.cfg.RefreshInterval <= 0 {
		return
	}
	s.loops.Add(1)
	go s.refreshLoop()
}

// refreshLoop picks up changes made by other clients
func (s *LiveSession) refreshLoop() {
	defer s.loops.Done()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			if err := s.Reload(ctx); err != nil {
				s.logger.Debug("periodic reload failed",
					"assemblyID", s.cfg.AssemblyID,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// queueEvent adds an event to the broadcast queue
func (s *LiveSession) queueEvent(event *domain.Event) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.events <- event:
	default:
		s.logger.Warn("event queue full, dropping event", "type", event.Type)
	}
}

// eventLoop processes events and broadcasts to clients
func (s *LiveSession) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.events:
			s.broadcastEvent(event)
		}
	}
}

// broadcastEvent sends an event to appropriate clients
func (s *LiveSession) broadcastEvent(event *domain.Event) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	// If client-specific, send only to that client
	if event.Target != "" {
		if client, ok := s.clients[event.Target]; ok {
			if err := client.Send(event); err != nil {
				s.logger.Debug("failed to send to client", "clientID", event.Target, "error", err)
			}
		}
		return
	}

	for clientID, client := range s.clients {
		if err := client.Send(event); err != nil {
			s.logger.Debug("failed to send to client", "clientID", clientID, "error", err)
		}
	}
}

// Close shuts down the session
func (s *LiveSession) Close() {
	select {
	case <-s.done:
		return // Already closed
	default:
		close(s.done)
	}

	s.countdown.Close()
	s.loops.Wait()
	s.guard.Close()
	s.exit.Wait()

	// Close all client connections
	s.clientsMu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clients = make(map[string]Subscriber)
	s.watches = make(map[string]string)
	s.clientsMu.Unlock()
}
