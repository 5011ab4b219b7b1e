package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Ballot is a vote cast by the registered participant
type Ballot struct {
	QuestionID int64     `json:"questionId"`
	OptionID   int64     `json:"optionId"`
	CastAt     time.Time `json:"castAt"`
}

// NewBallot creates a new ballot
func NewBallot(questionID, optionID int64) *Ballot {
	return &Ballot{
		QuestionID: questionID,
		OptionID:   optionID,
		CastAt:     time.Now(),
	}
}

// OptionResult is the tally of one option, or of the abstentions
type OptionResult struct {
	Key         string          `json:"key"`
	OptionID    *int64          `json:"optionId,omitempty"`
	Text        string          `json:"text"`
	Votes       int             `json:"votes"`
	Coefficient decimal.Decimal `json:"coefficient"`
	Abstention  bool            `json:"abstention"`
}

// QuestionResult represents the results of a question for display
type QuestionResult struct {
	QuestionID int64          `json:"questionId"`
	Text       string         `json:"text"`
	Options    []OptionResult `json:"options"`
}

// TotalVotes sums the votes of every row, abstentions included
func (r *QuestionResult) TotalVotes() int {
	total := 0
	for _, o := range r.Options {
		total += o.Votes
	}
	return total
}

// TotalCoefficient sums the coefficient of every row
func (r *QuestionResult) TotalCoefficient() decimal.Decimal {
	total := decimal.Zero
	for _, o := range r.Options {
		total = total.Add(o.Coefficient)
	}
	return total
}

// ResultKey builds a stable row key. Abstention rows carry no option id and
// are keyed by their question.
func ResultKey(questionID int64, optionID *int64, abstention bool) string {
	if abstention || optionID == nil {
		return "abs-" + strconv.FormatInt(questionID, 10)
	}
	return strconv.FormatInt(*optionID, 10)
}
