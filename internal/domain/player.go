package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IdentityKind tells who is entering the assembly
type IdentityKind string

const (
	IdentitySelf  IdentityKind = "self"  // Authenticated owner
	IdentityProxy IdentityKind = "proxy" // Apoderado with access code
)

// Identity is the credential bundle presented at attendance registration
type Identity struct {
	Kind        IdentityKind `json:"kind" validate:"required,oneof=self proxy"`
	Document    string       `json:"document" validate:"required"`
	Email       string       `json:"email,omitempty" validate:"required_if=Kind proxy"`
	AccessCode  string       `json:"accessCode,omitempty" validate:"required_if=Kind proxy"`
	Copropiedad string       `json:"copropiedad" validate:"required"`
	ProjectNIT  string       `json:"projectNit,omitempty"`
	Role        string       `json:"role,omitempty"`
}

// IsProxy returns true for apoderado identities
func (i Identity) IsProxy() bool {
	return i.Kind == IdentityProxy
}

// Registration is the attendance record of a session. It is immutable once
// created; re-entering the assembly creates a new one.
type Registration struct {
	AssemblyID   int64           `json:"assemblyId"`
	Document     string          `json:"document,omitempty"`
	Coefficient  decimal.Decimal `json:"coefficient"`
	UnitCount    int             `json:"unitCount"`
	Units        []string        `json:"units"`
	ObserverMode bool            `json:"observerMode"`
	RegisteredAt time.Time       `json:"registeredAt"`
}

// NewObserverRegistration creates a registration with no voting weight
func NewObserverRegistration(assemblyID int64, document string) *Registration {
	return &Registration{
		AssemblyID:   assemblyID,
		Document:     document,
		Coefficient:  decimal.Zero,
		UnitCount:    0,
		Units:        []string{},
		ObserverMode: true,
		RegisteredAt: time.Now(),
	}
}

// CanVote returns true if the registration carries voting weight
func (r *Registration) CanVote() bool {
	return r != nil && !r.ObserverMode && r.UnitCount > 0
}

// Participant is one row of the quorum attendance list
type Participant struct {
	ID          int64           `json:"id"`
	Document    string          `json:"document"`
	Name        string          `json:"name"`
	Coefficient decimal.Decimal `json:"coefficient"`
	Units       int             `json:"units"`
	Present     bool            `json:"present"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}
