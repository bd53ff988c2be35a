package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newOrderFlow() *StateMachine {
	return NewStateMachine("", map[string][]string{
		"":          {"DRAFT"},
		"DRAFT":     {"SUBMITTED", "CANCELLED"},
		"SUBMITTED": {"DONE"},
	})
}

func TestStateMachine_Transitions(t *testing.T) {
	sm := newOrderFlow()

	assert.True(t, sm.CanTransition("DRAFT", "SUBMITTED"))
	assert.False(t, sm.CanTransition("SUBMITTED", "DRAFT"))
	assert.False(t, sm.CanTransition("UNKNOWN", "DRAFT"))
	assert.Equal(t, []string{"SUBMITTED", "CANCELLED"}, sm.GetAllowedTransitions("DRAFT"))
	assert.Empty(t, sm.GetAllowedTransitions("DONE"))
	assert.True(t, sm.IsFinal("CANCELLED"))
}

func TestStateMachine_ValidatePath(t *testing.T) {
	sm := newOrderFlow()

	assert.NoError(t, sm.ValidatePath([]string{"DRAFT", "SUBMITTED", "DONE"}))
	assert.NoError(t, sm.ValidatePath([]string{"DRAFT", "CANCELLED"}))
	assert.ErrorContains(t, sm.ValidatePath([]string{"DRAFT", "DONE"}), "DRAFT -> DONE")
	assert.ErrorContains(t, sm.ValidatePath([]string{"DRAFT"}), "non-final")
	assert.Error(t, sm.ValidatePath(nil))
}
