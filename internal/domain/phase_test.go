package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from QuestionState
		to   QuestionState
		want bool
	}{
		{QuestionScheduled, QuestionActive, true},
		{QuestionScheduled, QuestionCancelled, true},
		{QuestionScheduled, QuestionFinalized, false},
		{QuestionActive, QuestionFinalized, true},
		{QuestionActive, QuestionCancelled, true},
		{QuestionActive, QuestionScheduled, false},
		{QuestionFinalized, QuestionActive, false},
		{QuestionFinalized, QuestionCancelled, false},
		{QuestionCancelled, QuestionActive, false},
		{QuestionCancelled, QuestionScheduled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestQuestionState_IsTerminal(t *testing.T) {
	assert.False(t, QuestionScheduled.IsTerminal())
	assert.False(t, QuestionActive.IsTerminal())
	assert.True(t, QuestionFinalized.IsTerminal())
	assert.True(t, QuestionCancelled.IsTerminal())
}

func TestAssemblyStatus(t *testing.T) {
	assert.True(t, AssemblyScheduled.CanTransitionTo(AssemblyInProgress))
	assert.True(t, AssemblyInProgress.CanTransitionTo(AssemblyFinished))
	assert.False(t, AssemblyFinished.CanTransitionTo(AssemblyInProgress))
	assert.False(t, AssemblyScheduled.CanTransitionTo(AssemblyFinished))

	s, err := ParseAssemblyStatus("en_curso")
	require.NoError(t, err)
	assert.Equal(t, AssemblyInProgress, s)

	_, err = ParseAssemblyStatus("abierta")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
