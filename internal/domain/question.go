package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// QuestionKind is the answer format of a question
type QuestionKind string

const (
	KindYesNo    QuestionKind = "si_no"
	KindMultiple QuestionKind = "multiple"
)

// Option is one answer a participant may choose
type Option struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Question is a single voting question within a round
type Question struct {
	ID          int64         `json:"id"`
	VotingID    int64         `json:"votingId"`
	AssemblyID  int64         `json:"assemblyId"`
	VotingTitle string        `json:"votingTitle,omitempty"`
	Text        string        `json:"text"`
	Kind        QuestionKind  `json:"kind"`
	Order       int           `json:"order"`
	State       QuestionState `json:"state"`
	Options     []Option      `json:"options"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
}

// IsActive returns true if the question is open for votes
func (q *Question) IsActive() bool {
	return q.State == QuestionActive
}

// HasOption checks whether the option id belongs to this question
func (q *Question) HasOption(optionID int64) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// Validate checks the option invariants of the question
func (q *Question) Validate() error {
	if q.Kind != KindMultiple {
		return nil
	}
	texts := make([]string, len(q.Options))
	for i, o := range q.Options {
		texts[i] = o.Text
	}
	return ValidateOptions(texts)
}

// ValidateOptions checks a multiple choice option list: at least two entries,
// none blank, and no two equal after trimming and case folding
func ValidateOptions(options []string) error {
	if len(options) < 2 {
		return ErrTooFewOptions
	}

	fold := cases.Fold()
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		key := fold.String(strings.TrimSpace(opt))
		if key == "" {
			return ErrEmptyOption
		}
		if _, dup := seen[key]; dup {
			return ErrDuplicateOption
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ActiveQuestion is the server's view of the currently open question
type ActiveQuestion struct {
	Question
	RemainingSeconds int  `json:"remainingSeconds"`
	AlreadyVoted     bool `json:"alreadyVoted"`
}
