package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"asamblea/internal/domain"
)

// Endpoint paths
const (
	pathListVotings     = "/votaciones/listar"
	pathActivate        = "/votaciones/activar-pregunta"
	pathFinalize        = "/votaciones/finalizar-pregunta"
	pathCancel          = "/votaciones/cancelar-pregunta"
	pathActiveQuestion  = "/votaciones/pregunta-activa"
	pathCastVote        = "/votaciones/registrar-voto"
	pathResults         = "/votaciones/resultados"
	pathAssemblyDetail  = "/asambleas/detalle"
	pathChangeStatus    = "/asambleas/cambiar-estado"
	pathAttendance      = "/asambleas/registrar-asistencia"
	pathLeave           = "/asambleas/registrar-salida"
	pathQuorum          = "/asambleas/quorum-en-curso"
	maxResponseBodySize = 4 << 20
)

// TokenSource supplies the bearer token for authenticated calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token
type StaticToken string

// Token implements TokenSource
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Client talks to the assembly backend over JSON POST requests
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	identity domain.Identity
	logger   *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds every call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithTokenSource sets where bearer tokens come from
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithIdentity sets the user context attached to authenticated calls
func WithIdentity(id domain.Identity) Option {
	return func(c *Client) {
		c.identity = id
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new backend client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		tokens:  StaticToken(""),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Backend = (*Client)(nil)

// ListQuestions returns every question of the assembly sorted by id
func (c *Client) ListQuestions(ctx context.Context, assemblyID int64) ([]domain.Question, error) {
	var resp listResponse
	body := map[string]any{"asamblea_id": assemblyID}
	if err := c.call(ctx, "listQuestions", pathListVotings, body, ctxVotingList, c.identity, true, &resp); err != nil {
		return nil, err
	}

	rounds := make([]domain.VotingRound, len(resp.Votings))
	for i, v := range resp.Votings {
		questions := make([]domain.Question, len(v.Questions))
		for j, q := range v.Questions {
			questions[j] = q.toDomain()
		}
		rounds[i] = domain.VotingRound{
			ID:         v.ID,
			AssemblyID: v.AssemblyID,
			Title:      v.Title,
			State:      domain.QuestionState(v.State),
			Questions:  questions,
		}
	}
	return domain.Flatten(rounds), nil
}

// ActivateQuestion opens a question and returns its duration
func (c *Client) ActivateQuestion(ctx context.Context, questionID int64, mode string) (Activation, error) {
	var resp activateResponse
	body := map[string]any{"pregunta_id": questionID, "estado": mode}
	if err := c.call(ctx, "activateQuestion", pathActivate, body, ctxManageQuestions, c.identity, true, &resp); err != nil {
		return Activation{}, err
	}
	return Activation{DurationSeconds: resp.DurationSeconds}, nil
}

// FinalizeQuestion closes an active question
func (c *Client) FinalizeQuestion(ctx context.Context, questionID int64) error {
	var resp envelope
	body := map[string]any{"pregunta_id": questionID}
	return c.call(ctx, "finalizeQuestion", pathFinalize, body, ctxManageQuestions, c.identity, true, &resp)
}

// CancelQuestion cancels a scheduled or active question
func (c *Client) CancelQuestion(ctx context.Context, questionID int64) error {
	var resp envelope
	body := map[string]any{"pregunta_id": questionID}
	return c.call(ctx, "cancelQuestion", pathCancel, body, ctxManageQuestions, c.identity, true, &resp)
}

// ActiveQuestion returns the open question of the assembly, or nil
func (c *Client) ActiveQuestion(ctx context.Context, assemblyID int64) (*domain.ActiveQuestion, error) {
	var resp activeResponse
	body := map[string]any{"asamblea_id": assemblyID}
	if err := c.call(ctx, "getActiveQuestion", pathActiveQuestion, body, ctxActiveQuestion, c.identity, true, &resp); err != nil {
		return nil, err
	}
	if resp.Active == nil {
		return nil, nil
	}

	q := resp.Active.toDomain()
	q.AssemblyID = assemblyID
	q.VotingTitle = resp.Active.VotingTitle
	return &domain.ActiveQuestion{
		Question:         q,
		RemainingSeconds: resp.Active.RemainingSeconds,
		AlreadyVoted:     resp.Active.AlreadyVoted,
	}, nil
}

// CastVote records the caller's vote
func (c *Client) CastVote(ctx context.Context, questionID, optionID int64) error {
	var resp envelope
	body := map[string]any{"pregunta_id": questionID, "opcion_id": optionID}
	return c.call(ctx, "castVote", pathCastVote, body, ctxActiveQuestion, c.identity, true, &resp)
}

// Results returns the tallies of every closed question
func (c *Client) Results(ctx context.Context, assemblyID int64) ([]domain.QuestionResult, error) {
	var resp resultsResponse
	body := map[string]any{"asamblea_id": assemblyID}
	if err := c.call(ctx, "getResults", pathResults, body, ctxVotingList, c.identity, true, &resp); err != nil {
		return nil, err
	}

	results := make([]domain.QuestionResult, len(resp.Questions))
	for i, r := range resp.Questions {
		results[i] = r.toDomain()
	}
	return results, nil
}

// Assembly returns the assembly detail
func (c *Client) Assembly(ctx context.Context, assemblyID int64) (domain.Assembly, error) {
	var resp assemblyResponse
	body := map[string]any{"asamblea_id": assemblyID}
	if err := c.call(ctx, "getAssembly", pathAssemblyDetail, body, ctxAssembly, c.identity, true, &resp); err != nil {
		return domain.Assembly{}, err
	}
	if resp.Assembly == nil {
		return domain.Assembly{}, &Error{Op: "getAssembly", Code: CodeNotFound, Message: "assembly missing from response"}
	}
	return resp.Assembly.toDomain(), nil
}

// ChangeAssemblyStatus moves the assembly to a new status
func (c *Client) ChangeAssemblyStatus(ctx context.Context, assemblyID int64, status domain.AssemblyStatus) error {
	var resp envelope
	body := map[string]any{"asamblea_id": assemblyID, "nuevo_estado": string(status)}
	return c.call(ctx, "changeAssemblyStatus", pathChangeStatus, body, ctxAssemblyUpdate, c.identity, true, &resp)
}

// ValidateAttendance registers the identity as present. Proxy identities
// carry their own context and are sent without a bearer token.
func (c *Client) ValidateAttendance(ctx context.Context, assemblyID int64, identity domain.Identity) (Attendance, error) {
	var resp attendanceResponse
	body := map[string]any{"asamblea_id": assemblyID}
	fields, auth := ctxAttendance, true
	if identity.IsProxy() {
		fields, auth = ctxProxyAttendance, false
	}
	if err := c.call(ctx, "validateAttendance", pathAttendance, body, fields, identity, auth, &resp); err != nil {
		return Attendance{}, err
	}

	units := []string(resp.Units)
	if units == nil {
		units = []string{}
	}
	return Attendance{
		Coefficient: resp.Coefficient,
		UnitCount:   resp.UnitCount,
		Units:       units,
		Document:    resp.Document,
	}, nil
}

// NotifyLeave tells the backend the participant left the assembly
func (c *Client) NotifyLeave(ctx context.Context, assemblyID int64, identity domain.Identity) error {
	var resp envelope
	body := map[string]any{"asamblea_id": assemblyID}
	fields, auth := ctxAttendance, true
	if identity.IsProxy() {
		fields, auth = ctxProxyAttendance, false
	}
	return c.call(ctx, "notifyLeave", pathLeave, body, fields, identity, auth, &resp)
}

// Quorum returns the quorum state and the participants changed since the
// given time. A zero time requests the full list.
func (c *Client) Quorum(ctx context.Context, assemblyID int64, since time.Time) (QuorumSnapshot, error) {
	var resp quorumResponse
	body := map[string]any{"asamblea_id": assemblyID, "include_participantes": true}
	if !since.IsZero() {
		body["ultima_sync"] = since.UTC().Format(time.RFC3339)
	}
	if err := c.call(ctx, "quorum", pathQuorum, body, ctxAssemblyQuorum, c.identity, true, &resp); err != nil {
		return QuorumSnapshot{}, err
	}

	participants := make([]domain.Participant, len(resp.Participants))
	for i, p := range resp.Participants {
		participants[i] = domain.Participant{
			ID:          p.ID,
			Document:    p.Document,
			Name:        p.Name,
			Coefficient: p.Coefficient,
			Units:       p.Units,
			Present:     p.Present,
			UpdatedAt:   p.UpdatedAt.Time,
		}
	}
	return QuorumSnapshot{
		Reached:      resp.Reached,
		Required:     resp.Required,
		Participants: participants,
		Full:         since.IsZero(),
		SyncedAt:     time.Now(),
	}, nil
}

// enveloped is implemented by every response type
type enveloped interface {
	result() envelope
}

func (e envelope) result() envelope {
	return e
}

// call posts body to path and decodes the response into out
func (c *Client) call(ctx context.Context, op, path string, body map[string]any, fields []contextField, identity domain.Identity, auth bool, out enveloped) error {
	body["user_context"] = newUserContext(identity, fields)

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Code: CodeUnknown, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Code: CodeUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if auth {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &Error{Op: op, Code: CodeUnauthorized, Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Code: CodeUnavailable, Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return &Error{Op: op, Code: CodeUnavailable, Temporary: true, Err: err}
	}

	c.logger.Debug("backend call",
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.logger.Warn("backend rejected credentials", "op", op, "status", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{
			Op:        op,
			Code:      statusCode(resp.StatusCode),
			Message:   fmt.Sprintf("unexpected response (status %d)", resp.StatusCode),
			Temporary: resp.StatusCode >= http.StatusInternalServerError,
			Err:       err,
		}
	}

	env := out.result()
	if !env.Success {
		code := classify(env.Code, env.failure())
		if code == CodeUnknown {
			code = statusCode(resp.StatusCode)
		}
		return &Error{
			Op:        op,
			Code:      code,
			Message:   env.failure(),
			Temporary: code == CodeUnavailable,
		}
	}
	return nil
}

// statusCode maps an HTTP status to a code when the body says nothing better
func statusCode(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeUnauthorized
	case status == http.StatusNotFound:
		return CodeNotFound
	case status >= http.StatusInternalServerError:
		return CodeUnavailable
	default:
		return CodeUnknown
	}
}

// splitUnits splits a comma separated unit list
func splitUnits(joined string) []string {
	units := make([]string, 0)
	for _, u := range strings.Split(joined, ",") {
		if u = strings.TrimSpace(u); u != "" {
			units = append(units, u)
		}
	}
	return units
}

// IsTimeout reports whether err is a client side deadline
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
