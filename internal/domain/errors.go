package domain

import "errors"

// Domain errors
var (
	ErrAssemblyNotFound      = errors.New("assembly not found")
	ErrSessionNotFound       = errors.New("no live session for assembly")
	ErrSessionClosed         = errors.New("session is closed")
	ErrNotRegistered         = errors.New("attendance not registered")
	ErrQuestionNotFound      = errors.New("question not found")
	ErrQuestionNotActive     = errors.New("question is not active")
	ErrInvalidTransition     = errors.New("invalid question state transition")
	ErrInvalidStatus         = errors.New("invalid assembly status")
	ErrNotModerator          = errors.New("only the moderator can perform this action")
	ErrObserverCannotVote    = errors.New("observers cannot vote")
	ErrAlreadyVoted          = errors.New("already voted on this question")
	ErrInvalidOption         = errors.New("option does not belong to question")
	ErrTooFewOptions         = errors.New("multiple choice questions need at least two options")
	ErrDuplicateOption       = errors.New("duplicate option text")
	ErrEmptyOption           = errors.New("option text cannot be empty")
	ErrDuplicateRegistration = errors.New("attendance already registered for these units")
	ErrNotRetryable          = errors.New("outcome cannot be retried")
	ErrInvalidIdentity       = errors.New("invalid identity")
)
