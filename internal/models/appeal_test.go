package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    AppealState
		to      AppealState
		allowed bool
	}{
		{"pending to revised", AppealStatePending, AppealStateRevised, true},
		{"pending to cited", AppealStatePending, AppealStateCited, false},
		{"pending to accepted", AppealStatePending, AppealStateAccepted, false},
		{"revised to cited", AppealStateRevised, AppealStateCited, true},
		{"revised to accepted", AppealStateRevised, AppealStateAccepted, true},
		{"revised to rejected", AppealStateRevised, AppealStateRejected, true},
		{"revised to pending", AppealStateRevised, AppealStatePending, false},
		{"re-citation", AppealStateCited, AppealStateCited, true},
		{"cited to accepted", AppealStateCited, AppealStateAccepted, true},
		{"cited to rejected", AppealStateCited, AppealStateRejected, true},
		{"cited to revised", AppealStateCited, AppealStateRevised, false},
		{"accepted is terminal", AppealStateAccepted, AppealStateCited, false},
		{"rejected is terminal", AppealStateRejected, AppealStateRevised, false},
		{"unknown state", AppealState("BOGUS"), AppealStateRevised, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))
		})
	}
}

func TestTerminalStatesAdmitNoTransition(t *testing.T) {
	targets := []AppealState{AppealStatePending, AppealStateRevised, AppealStateCited, AppealStateAccepted, AppealStateRejected}
	for _, terminal := range []AppealState{AppealStateAccepted, AppealStateRejected} {
		require.True(t, terminal.IsTerminal())
		for _, to := range targets {
			assert.False(t, CanTransition(terminal, to), "%s -> %s must be rejected", terminal, to)
		}
	}
}

func TestEditableAtWithoutDeadline(t *testing.T) {
	now := time.Now().UTC()

	appeal := &Appeal{State: AppealStatePending, CanEdit: true}
	assert.True(t, appeal.EditableAt(now))

	appeal.CanEdit = false
	assert.False(t, appeal.EditableAt(now))
}

func TestEditableAtDeadlineBoundary(t *testing.T) {
	now := time.Now().UTC()
	deadline := now.Add(EditWindow)

	appeal := &Appeal{State: AppealStateCited, CanEdit: true, EditDeadline: &deadline}

	// exactly 24h before the deadline is still editable
	assert.True(t, appeal.EditableAt(now))
	// one second past the boundary is not
	assert.False(t, appeal.EditableAt(now.Add(time.Second)))
	// well past the deadline certainly not
	assert.False(t, appeal.EditableAt(deadline.Add(time.Hour)))
}

func TestEditableAtTerminalState(t *testing.T) {
	now := time.Now().UTC()
	deadline := now.Add(72 * time.Hour)

	appeal := &Appeal{State: AppealStateRejected, CanEdit: true, EditDeadline: &deadline}
	assert.False(t, appeal.EditableAt(now))
}
