package domain

// QuestionState represents the lifecycle state of a voting question
type QuestionState string

const (
	QuestionScheduled QuestionState = "programada" // Created, waiting for the moderator
	QuestionActive    QuestionState = "en_curso"   // Open for votes, countdown running
	QuestionFinalized QuestionState = "finalizada" // Closed, results available
	QuestionCancelled QuestionState = "cancelada"  // Closed without results
)

// String returns the string representation of the state
func (s QuestionState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible
func (s QuestionState) IsTerminal() bool {
	return s == QuestionFinalized || s == QuestionCancelled
}

// CanTransitionTo checks if a transition from current state to target state is valid
func (s QuestionState) CanTransitionTo(target QuestionState) bool {
	validTransitions := map[QuestionState][]QuestionState{
		QuestionScheduled: {QuestionActive, QuestionCancelled},
		QuestionActive:    {QuestionFinalized, QuestionCancelled},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == target {
			return true
		}
	}
	return false
}

// AssemblyStatus represents the lifecycle state of an assembly
type AssemblyStatus string

const (
	AssemblyScheduled  AssemblyStatus = "programada"
	AssemblyInProgress AssemblyStatus = "en_curso"
	AssemblyFinished   AssemblyStatus = "finalizada"
	AssemblyCancelled  AssemblyStatus = "cancelada"
)

// String returns the string representation of the status
func (s AssemblyStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if an assembly may move to the target status
func (s AssemblyStatus) CanTransitionTo(target AssemblyStatus) bool {
	validTransitions := map[AssemblyStatus][]AssemblyStatus{
		AssemblyScheduled:  {AssemblyInProgress, AssemblyCancelled},
		AssemblyInProgress: {AssemblyFinished, AssemblyCancelled},
	}

	for _, status := range validTransitions[s] {
		if status == target {
			return true
		}
	}
	return false
}

// ParseAssemblyStatus validates a raw status string
func ParseAssemblyStatus(raw string) (AssemblyStatus, error) {
	switch s := AssemblyStatus(raw); s {
	case AssemblyScheduled, AssemblyInProgress, AssemblyFinished, AssemblyCancelled:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}
