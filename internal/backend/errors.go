package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a backend failure
type Code string

const (
	CodeNoEligibleUnits       Code = "NO_ELIGIBLE_UNITS"
	CodeDuplicateRegistration Code = "DUPLICATE_REGISTRATION"
	CodeQuestionAlreadyActive Code = "QUESTION_ALREADY_ACTIVE"
	CodeQuestionClosed        Code = "QUESTION_ALREADY_CLOSED"
	CodeAlreadyVoted          Code = "ALREADY_VOTED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeUnavailable           Code = "UNAVAILABLE"
	CodeUnknown               Code = "UNKNOWN"
)

// Error is a failure reported by, or while reaching, the backend
type Error struct {
	Op        string
	Code      Code
	Message   string
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a backend error, or CodeUnknown
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeUnknown
}

// IsTemporary reports whether retrying the same call may succeed
func IsTemporary(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Temporary
	}
	return false
}

// MessageOf returns the server message of a backend error, falling back to
// the error text
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// knownCodes are the codes the envelope may carry
var knownCodes = map[Code]struct{}{
	CodeNoEligibleUnits:       {},
	CodeDuplicateRegistration: {},
	CodeQuestionAlreadyActive: {},
	CodeQuestionClosed:        {},
	CodeAlreadyVoted:          {},
	CodeNotFound:              {},
	CodeUnauthorized:          {},
}

// classify maps an unsuccessful envelope to a code. A structured code wins;
// deployments that only send a message fall back to classifyLegacy.
func classify(code, message string) Code {
	if c := Code(strings.ToUpper(strings.TrimSpace(code))); c != "" {
		if _, ok := knownCodes[c]; ok {
			return c
		}
	}
	return classifyLegacy(message)
}

// classifyLegacy recognises the message shapes sent by backends that predate
// structured codes. Nothing else in the module inspects message text.
func classifyLegacy(message string) Code {
	switch {
	case strings.Contains(message, "No tienes inmuebles disponibles"):
		return CodeNoEligibleUnits
	case strings.Contains(message, "Duplicate entry") && strings.Contains(message, "unique_apartamento_asamblea"):
		return CodeDuplicateRegistration
	case strings.Contains(message, "ya votó"), strings.Contains(message, "ya voto"):
		return CodeAlreadyVoted
	case closedQuestion(strings.ToLower(message)):
		return CodeQuestionClosed
	default:
		return CodeUnknown
	}
}

// closedQuestion matches the messages sent when a question stopped taking votes
func closedQuestion(message string) bool {
	for _, fragment := range []string{"finalizada", "cerrada", "no está activa", "no esta activa", "expirado"} {
		if strings.Contains(message, fragment) {
			return true
		}
	}
	return false
}
