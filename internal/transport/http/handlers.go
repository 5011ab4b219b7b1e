package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"asamblea/internal/app"
	"asamblea/internal/backend"
	"asamblea/internal/domain"
)

// Response is a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the response for health check
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the response for stats endpoint
type StatsResponse struct {
	LiveSessions     int `json:"liveSessions"`
	ConnectedClients int `json:"connectedClients"`
}

// EnterRequest is the body of POST /api/assemblies/{id}/session
type EnterRequest struct {
	Identity domain.Identity `json:"identity" validate:"-"` // checked at registration
	Role     string          `json:"role"`
}

// SessionResponse describes an entered session
type SessionResponse struct {
	AssemblyID   int64                `json:"assemblyId"`
	Role         domain.Role          `json:"role"`
	Registration *domain.Registration `json:"registration,omitempty"`
	Notice       *domain.Notice       `json:"notice,omitempty"`
}

// ForceRequest is the body of guarded question actions
type ForceRequest struct {
	Force bool `json:"force"`
}

// VoteRequest is the body of POST .../questions/{qid}/vote
type VoteRequest struct {
	OptionID int64 `json:"optionId" validate:"required,gt=0"`
}

// StatusRequest is the body of POST /api/assemblies/{id}/status
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ExitRequest is the body of POST /api/assemblies/{id}/exit
type ExitRequest struct {
	Confirm bool `json:"confirm"`
}

// ActiveQuestionResponse wraps the optional active question
type ActiveQuestionResponse struct {
	Question *domain.ActiveQuestion `json:"question"`
	Notice   *domain.Notice         `json:"notice,omitempty"`
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, &HealthResponse{
		Status: "ok",
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, &StatsResponse{
		LiveSessions:     s.hub.GetSessionCount(),
		ConnectedClients: s.hub.GetTotalClientCount(),
	})
}

// handleEnter handles POST /api/assemblies/{id}/session
func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	assemblyID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}

	var req EnterRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_ROLE", "Unknown role")
		return
	}

	session, out := s.hub.Open(r.Context(), assemblyID, req.Identity, role)
	if session == nil {
		s.sendOutcomeError(w, out)
		return
	}

	s.sendSuccess(w, &SessionResponse{
		AssemblyID:   assemblyID,
		Role:         session.Role(),
		Registration: session.Registration(),
		Notice:       out.Notice,
	})
}

// handleCloseSession handles DELETE /api/assemblies/{id}/session
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	assemblyID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	s.hub.DeleteSession(assemblyID)
	s.sendSuccess(w, nil)
}

// handleExit handles POST /api/assemblies/{id}/exit
func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req ExitRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	s.sendOutcome(w, session.Exit(r.Context(), req.Confirm))
}

// handleQuestions handles GET /api/assemblies/{id}/questions
func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	s.sendSuccess(w, session.Questions())
}

// handleReload handles POST /api/assemblies/{id}/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := session.Reload(r.Context()); err != nil {
		s.sendBackendError(w, err)
		return
	}
	s.sendSuccess(w, session.Questions())
}

// handleActivate handles POST .../questions/{qid}/activate
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	session, questionID, force, ok := s.questionAction(w, r)
	if !ok {
		return
	}
	s.sendOutcome(w, session.Activate(r.Context(), questionID, force))
}

// handleFinalize handles POST .../questions/{qid}/finalize
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	session, questionID, _, ok := s.questionAction(w, r)
	if !ok {
		return
	}
	s.sendOutcome(w, session.Finalize(r.Context(), questionID))
}

// handleCancel handles POST .../questions/{qid}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	session, questionID, force, ok := s.questionAction(w, r)
	if !ok {
		return
	}
	s.sendOutcome(w, session.Cancel(r.Context(), questionID, force))
}

// handleVote handles POST .../questions/{qid}/vote
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	questionID, ok := s.pathID(w, r, "qid")
	if !ok {
		return
	}

	var req VoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.sendOutcome(w, session.CastVote(r.Context(), questionID, req.OptionID))
}

// handleActiveQuestion handles GET /api/assemblies/{id}/active-question
func (s *Server) handleActiveQuestion(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	aq, out := session.ActiveQuestion(r.Context())
	if out.Err != nil {
		s.sendOutcomeError(w, out)
		return
	}
	s.sendSuccess(w, &ActiveQuestionResponse{Question: aq, Notice: out.Notice})
}

// handleResults handles GET /api/assemblies/{id}/results
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	results, err := session.Results(r.Context())
	if err != nil {
		s.sendBackendError(w, err)
		return
	}
	s.sendSuccess(w, results)
}

// handleQuorum handles GET /api/assemblies/{id}/quorum
func (s *Server) handleQuorum(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	info, err := session.Quorum(r.Context())
	if err != nil {
		s.sendBackendError(w, err)
		return
	}
	s.sendSuccess(w, info)
}

// handleStatus handles POST /api/assemblies/{id}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	status, err := domain.ParseAssemblyStatus(req.Status)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown assembly status")
		return
	}
	s.sendOutcome(w, session.ChangeAssemblyStatus(r.Context(), status))
}

// questionAction resolves the session, question id and force flag
func (s *Server) questionAction(w http.ResponseWriter, r *http.Request) (*app.LiveSession, int64, bool, bool) {
	session, ok := s.session(w, r)
	if !ok {
		return nil, 0, false, false
	}
	questionID, ok := s.pathID(w, r, "qid")
	if !ok {
		return nil, 0, false, false
	}

	var req ForceRequest
	if !s.decodeOptional(w, r, &req) {
		return nil, 0, false, false
	}
	return session, questionID, req.Force, true
}

// session resolves the live session of the path's assembly
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*app.LiveSession, bool) {
	assemblyID, ok := s.pathID(w, r, "id")
	if !ok {
		return nil, false
	}

	session, err := s.hub.GetSession(assemblyID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.sendError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "No live session for this assembly")
		} else {
			s.sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		}
		return nil, false
	}
	return session, true
}

// pathID parses a positive integer path value
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("%s must be a positive integer", name))
		return 0, false
	}
	return id, true
}

// decode reads and validates a JSON body
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}

// decodeOptional is decode for bodies that may be empty
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body")
		return false
	}
	return true
}

// sendOutcome sends a session outcome. Confirmation requests are successful
// responses carrying the confirmation.
func (s *Server) sendOutcome(w http.ResponseWriter, out app.Outcome) {
	if out.Err != nil {
		s.sendOutcomeError(w, out)
		return
	}
	s.sendSuccess(w, out)
}

// sendOutcomeError sends a failed outcome with its user-facing message
func (s *Server) sendOutcomeError(w http.ResponseWriter, out app.Outcome) {
	status, code := errorStatus(out.Err)
	message := ""
	if out.Notice != nil {
		message = out.Notice.Message
	} else if out.Err != nil {
		message = out.Err.Error()
	}
	s.sendError(w, status, code, message)
}

// sendBackendError sends a failure of a plain backend read
func (s *Server) sendBackendError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	s.sendError(w, status, code, backend.MessageOf(err))
}

// errorStatus maps an error to an HTTP status and an error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound, "QUESTION_NOT_FOUND"
	case errors.Is(err, domain.ErrNotModerator):
		return http.StatusForbidden, "NOT_MODERATOR"
	case errors.Is(err, domain.ErrObserverCannotVote):
		return http.StatusForbidden, "OBSERVER_CANNOT_VOTE"
	case errors.Is(err, domain.ErrNotRegistered):
		return http.StatusForbidden, "NOT_REGISTERED"
	case errors.Is(err, domain.ErrInvalidIdentity):
		return http.StatusBadRequest, "INVALID_IDENTITY"
	case errors.Is(err, domain.ErrInvalidOption):
		return http.StatusBadRequest, "INVALID_OPTION"
	case errors.Is(err, domain.ErrAlreadyVoted):
		return http.StatusConflict, "ALREADY_VOTED"
	case errors.Is(err, domain.ErrDuplicateRegistration):
		return http.StatusConflict, "DUPLICATE_REGISTRATION"
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrQuestionNotActive),
		errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrNotRetryable):
		return http.StatusConflict, "INVALID_ACTION"
	}

	switch backend.CodeOf(err) {
	case backend.CodeUnauthorized:
		return http.StatusUnauthorized, "BACKEND_UNAUTHORIZED"
	case backend.CodeNotFound:
		return http.StatusNotFound, "BACKEND_NOT_FOUND"
	case backend.CodeUnavailable:
		return http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE"
	}
	return http.StatusBadGateway, "BACKEND_ERROR"
}

// sendSuccess sends a successful JSON response
func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&Response{
		Success: true,
		Data:    data,
	})
}

// sendError sends an error JSON response
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}
