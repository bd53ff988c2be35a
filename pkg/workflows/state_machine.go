package workflows

import "fmt"

// StateMachine enforces transitions between named states
type StateMachine struct {
	initial            string
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine that starts in initial and
// allows the given transitions
func NewStateMachine(initial string, transitions map[string][]string) *StateMachine {
	return &StateMachine{
		initial:            initial,
		allowedTransitions: transitions,
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// IsFinal reports whether no transition leaves state
func (sm *StateMachine) IsFinal(state string) bool {
	return len(sm.allowedTransitions[state]) == 0
}

// ValidatePath checks that path walks from the initial state through
// allowed transitions and stops in a final state
func (sm *StateMachine) ValidatePath(path []string) error {
	from := sm.initial
	for i, to := range path {
		if !sm.CanTransition(from, to) {
			return fmt.Errorf("step %d: transition %s -> %s not allowed", i, from, to)
		}
		from = to
	}
	if !sm.IsFinal(from) {
		return fmt.Errorf("path ends in non-final state %s", from)
	}
	return nil
}
