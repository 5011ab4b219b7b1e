package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Assembly is a scheduled meeting of property owners
type Assembly struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Date           string          `json:"date"`
	Time           string          `json:"time"`
	Location       string          `json:"location,omitempty"`
	Modality       string          `json:"modality"` // presencial, virtual or mixta
	Type           string          `json:"type"`     // ordinaria or extraordinaria
	Status         AssemblyStatus  `json:"status"`
	QuorumRequired decimal.Decimal `json:"quorumRequired"`
	QuorumReached  decimal.Decimal `json:"quorumReached"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// QuorumMet reports whether the reached percentage covers the required one
func QuorumMet(a Assembly) bool {
	return a.QuorumReached.GreaterThanOrEqual(a.QuorumRequired)
}

// QuorumInfo is the quorum summary sent to the app shell
type QuorumInfo struct {
	Required     decimal.Decimal `json:"required"`
	Reached      decimal.Decimal `json:"reached"`
	Met          bool            `json:"met"`
	Participants []Participant   `json:"participants,omitempty"`
	Stale        bool            `json:"stale"`
	SyncedAt     time.Time       `json:"syncedAt"`
}

// NewQuorumInfo builds the summary for an assembly
func NewQuorumInfo(a Assembly) QuorumInfo {
	return QuorumInfo{
		Required: a.QuorumRequired,
		Reached:  a.QuorumReached,
		Met:      QuorumMet(a),
	}
}
