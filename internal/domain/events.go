package domain

import "time"

// EventType represents the type of session event
type EventType string

const (
	EventSessionEntered    EventType = "SESSION_ENTERED"
	EventSessionExited     EventType = "SESSION_EXITED"
	EventRegistryReloaded  EventType = "REGISTRY_RELOADED"
	EventQuestionActivated EventType = "QUESTION_ACTIVATED"
	EventQuestionFinalized EventType = "QUESTION_FINALIZED"
	EventQuestionCancelled EventType = "QUESTION_CANCELLED"
	EventCountdownTick     EventType = "COUNTDOWN_TICK"
	EventVotePrompt        EventType = "VOTE_PROMPT"
	EventVoteCast          EventType = "VOTE_CAST"
	EventQuorumUpdated     EventType = "QUORUM_UPDATED"
	EventAssemblyStatus    EventType = "ASSEMBLY_STATUS"
	EventNotice            EventType = "NOTICE"
)

// Event represents something that happened in a live session
type Event struct {
	Type       EventType   `json:"type"`
	AssemblyID int64       `json:"assemblyId"`
	QuestionID int64       `json:"questionId,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`

	// Target restricts delivery to one client when set
	Target string `json:"-"`
}

// NewEvent creates a new session event
func NewEvent(eventType EventType, assemblyID int64, payload interface{}) *Event {
	return &Event{
		Type:       eventType,
		AssemblyID: assemblyID,
		Payload:    payload,
		Timestamp:  time.Now(),
	}
}

// NewQuestionEvent creates a new question-specific event
func NewQuestionEvent(eventType EventType, assemblyID, questionID int64, payload interface{}) *Event {
	return &Event{
		Type:       eventType,
		AssemblyID: assemblyID,
		QuestionID: questionID,
		Payload:    payload,
		Timestamp:  time.Now(),
	}
}

// Payload types for different events

// RegistryPayload is sent when the question list is refetched
type RegistryPayload struct {
	Questions        []Question `json:"questions"`
	ActiveQuestionID int64      `json:"activeQuestionId,omitempty"`
}

// ActivationPayload is sent when a question opens
type ActivationPayload struct {
	Record    ActivationRecord `json:"record"`
	Countdown Countdown        `json:"countdown"`
}

// CountdownPayload is sent on every tick of a tracked question
type CountdownPayload struct {
	Remaining int    `json:"remainingSeconds"`
	Minutes   int    `json:"minutes"`
	Seconds   int    `json:"seconds"`
	LowTime   bool   `json:"lowTime"`
	Display   string `json:"display"`
}

// NewCountdownPayload builds the tick payload from a countdown
func NewCountdownPayload(c Countdown) *CountdownPayload {
	return &CountdownPayload{
		Remaining: c.Remaining,
		Minutes:   c.Minutes(),
		Seconds:   c.Seconds(),
		LowTime:   c.LowTime(),
		Display:   c.String(),
	}
}

// VotePayload is sent when the session's ballot is accepted
type VotePayload struct {
	Ballot *Ballot `json:"ballot"`
}

// StatusPayload is sent when the assembly status changes
type StatusPayload struct {
	Status AssemblyStatus `json:"status"`
}
