package domain

import (
	"sort"
	"time"
)

// VotingRound groups the questions an assembly votes on in one block
type VotingRound struct {
	ID         int64         `json:"id"`
	AssemblyID int64         `json:"assemblyId"`
	Title      string        `json:"title"`
	State      QuestionState `json:"state"`
	StartedAt  *time.Time    `json:"startedAt,omitempty"`
	EndedAt    *time.Time    `json:"endedAt,omitempty"`
	Questions  []Question    `json:"questions"`
}

// Flatten returns the questions of all rounds, tagged with their round and
// sorted ascending by id
func Flatten(rounds []VotingRound) []Question {
	questions := make([]Question, 0)
	for _, r := range rounds {
		for _, q := range r.Questions {
			q.VotingID = r.ID
			if q.AssemblyID == 0 {
				q.AssemblyID = r.AssemblyID
			}
			if q.VotingTitle == "" {
				q.VotingTitle = r.Title
			}
			questions = append(questions, q)
		}
	}
	SortByID(questions)
	return questions
}

// SortByID sorts questions ascending by id
func SortByID(questions []Question) {
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].ID < questions[j].ID
	})
}

// SortForDisplay sorts questions by their display order, breaking ties by id
func SortForDisplay(questions []Question) {
	sort.SliceStable(questions, func(i, j int) bool {
		if questions[i].Order != questions[j].Order {
			return questions[i].Order < questions[j].Order
		}
		return questions[i].ID < questions[j].ID
	})
}

// FindActive returns the first active question, if any
func FindActive(questions []Question) (Question, bool) {
	for _, q := range questions {
		if q.State == QuestionActive {
			return q, true
		}
	}
	return Question{}, false
}
