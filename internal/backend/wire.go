package backend

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"asamblea/internal/domain"
)

// wireTimeLayouts are the timestamp shapes the backend is known to send
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// wireTime is a lenient timestamp. Unparseable values decode as zero rather
// than failing the whole response.
type wireTime struct {
	time.Time
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil || raw == "" {
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

func (t wireTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// envelope is the common part of every backend response
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e envelope) failure() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// userContext is the caller description attached to requests
type userContext struct {
	Document    string `json:"documento,omitempty"`
	Copropiedad string `json:"copropiedad,omitempty"`
	ProjectNIT  string `json:"proyecto_nit,omitempty"`
	Role        string `json:"rol,omitempty"`
}

// contextField names a user context field
type contextField int

const (
	fieldDocument contextField = iota
	fieldCopropiedad
	fieldProjectNIT
	fieldRole
)

// Field lists per operation family
var (
	ctxVotingList      = []contextField{fieldCopropiedad}
	ctxActiveQuestion  = []contextField{fieldDocument, fieldCopropiedad}
	ctxManageQuestions = []contextField{fieldProjectNIT, fieldCopropiedad, fieldRole}
	ctxAttendance      = []contextField{fieldDocument, fieldCopropiedad, fieldProjectNIT}
	ctxAssembly        = []contextField{fieldDocument, fieldCopropiedad, fieldProjectNIT}
	ctxAssemblyUpdate  = []contextField{fieldDocument, fieldRole, fieldCopropiedad, fieldProjectNIT}
	ctxAssemblyQuorum  = []contextField{fieldDocument, fieldCopropiedad, fieldProjectNIT}
	ctxProxyAttendance = []contextField{fieldDocument, fieldProjectNIT, fieldCopropiedad}
)

// newUserContext keeps only the listed fields of the identity
func newUserContext(id domain.Identity, fields []contextField) *userContext {
	uc := &userContext{}
	for _, f := range fields {
		switch f {
		case fieldDocument:
			uc.Document = id.Document
		case fieldCopropiedad:
			uc.Copropiedad = id.Copropiedad
		case fieldProjectNIT:
			uc.ProjectNIT = id.ProjectNIT
		case fieldRole:
			uc.Role = id.Role
		}
	}
	return uc
}

type wireOption struct {
	ID     int64  `json:"id"`
	Option string `json:"opcion"`
}

type wireQuestion struct {
	ID         int64        `json:"id"`
	VotingID   int64        `json:"votacion_id,omitempty"`
	Text       string       `json:"pregunta"`
	Kind       string       `json:"tipo_pregunta"`
	Order      int          `json:"orden"`
	State      string       `json:"estado"`
	StartedAt  wireTime     `json:"fecha_inicio,omitempty"`
	EndedAt    wireTime     `json:"fecha_fin,omitempty"`
	Options    []wireOption `json:"opciones"`
}

func (q wireQuestion) toDomain() domain.Question {
	opts := make([]domain.Option, len(q.Options))
	for i, o := range q.Options {
		opts[i] = domain.Option{ID: o.ID, Text: o.Option}
	}
	return domain.Question{
		ID:        q.ID,
		VotingID:  q.VotingID,
		Text:      q.Text,
		Kind:      domain.QuestionKind(q.Kind),
		Order:     q.Order,
		State:     domain.QuestionState(q.State),
		Options:   opts,
		StartedAt: q.StartedAt.ptr(),
		EndedAt:   q.EndedAt.ptr(),
	}
}

type wireVoting struct {
	ID         int64          `json:"id"`
	AssemblyID int64          `json:"asamblea_id"`
	Title      string         `json:"titulo"`
	State      string         `json:"estado"`
	Questions  []wireQuestion `json:"preguntas"`
}

type listResponse struct {
	envelope
	Votings []wireVoting `json:"votaciones"`
}

type activateResponse struct {
	envelope
	DurationSeconds int `json:"duracion_segundos"`
}

type wireActiveQuestion struct {
	wireQuestion
	RemainingSeconds int    `json:"segundos_restantes"`
	VotingTitle      string `json:"votacion_titulo"`
	AlreadyVoted     bool   `json:"ya_voto"`
}

type activeResponse struct {
	envelope
	Active *wireActiveQuestion `json:"pregunta_activa"`
}

type wireResultRow struct {
	ID          *int64          `json:"id"`
	OptionID    *int64          `json:"opcion_id"`
	Text        string          `json:"opcion_texto"`
	Votes       int             `json:"total_votos"`
	Coefficient decimal.Decimal `json:"total_coeficiente"`
	Abstention  bool            `json:"es_abstencion"`
}

type wireResult struct {
	QuestionID int64           `json:"pregunta_id"`
	Text       string          `json:"pregunta_texto"`
	Rows       []wireResultRow `json:"resultados"`
}

type resultsResponse struct {
	envelope
	Questions []wireResult `json:"preguntas"`
}

func (r wireResult) toDomain() domain.QuestionResult {
	rows := make([]domain.OptionResult, len(r.Rows))
	for i, row := range r.Rows {
		abstention := row.Abstention || row.OptionID == nil
		rows[i] = domain.OptionResult{
			Key:         domain.ResultKey(r.QuestionID, row.OptionID, abstention),
			OptionID:    row.OptionID,
			Text:        row.Text,
			Votes:       row.Votes,
			Coefficient: row.Coefficient,
			Abstention:  abstention,
		}
	}
	return domain.QuestionResult{QuestionID: r.QuestionID, Text: r.Text, Options: rows}
}

type attendanceResponse struct {
	envelope
	Coefficient decimal.Decimal `json:"coeficiente_total"`
	UnitCount   int             `json:"apartamentos_count"`
	Units       unitList        `json:"apartamentos_numeros"`
	Document    string          `json:"documento_participante"`
}

// unitList accepts the unit numbers as a JSON array or a comma separated string
type unitList []string

func (u *unitList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*u = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	*u = splitUnits(joined)
	return nil
}

type wireAssembly struct {
	ID             int64           `json:"id"`
	Title          string          `json:"titulo"`
	Description    string          `json:"descripcion"`
	Date           string          `json:"fecha"`
	Time           string          `json:"hora"`
	Location       string          `json:"lugar"`
	Modality       string          `json:"modalidad"`
	Status         string          `json:"estado"`
	Type           string          `json:"tipo_asamblea"`
	QuorumRequired decimal.Decimal `json:"quorum_requerido"`
	QuorumReached  decimal.Decimal `json:"quorum_alcanzado"`
}

func (a wireAssembly) toDomain() domain.Assembly {
	return domain.Assembly{
		ID:             a.ID,
		Title:          a.Title,
		Description:    a.Description,
		Date:           a.Date,
		Time:           a.Time,
		Location:       a.Location,
		Modality:       a.Modality,
		Type:           a.Type,
		Status:         domain.AssemblyStatus(a.Status),
		QuorumRequired: a.QuorumRequired,
		QuorumReached:  a.QuorumReached,
		UpdatedAt:      time.Now(),
	}
}

type assemblyResponse struct {
	envelope
	Assembly *wireAssembly `json:"asamblea"`
}

type wireParticipant struct {
	ID          int64           `json:"id"`
	Document    string          `json:"documento"`
	Name        string          `json:"nombre"`
	Coefficient decimal.Decimal `json:"coeficiente"`
	Units       int             `json:"apartamentos"`
	Present     bool            `json:"presente"`
	UpdatedAt   wireTime        `json:"ultima_actualizacion"`
}

type quorumResponse struct {
	envelope
	Reached      decimal.Decimal   `json:"quorum_alcanzado"`
	Required     decimal.Decimal   `json:"quorum_requerido"`
	Participants []wireParticipant `json:"participantes"`
}
