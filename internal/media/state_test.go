package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []State{StatePending, StateProcessing, StateIndexed, StateFailed, StateDead}
	allowed := map[[2]State]bool{
		{StatePending, StateProcessing}: true,
		{StatePending, StateFailed}:     true,
		{StateProcessing, StateIndexed}: true,
		{StateProcessing, StateFailed}:  true,
		{StateFailed, StatePending}:     true,
		{StateFailed, StateDead}:        true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]State{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateIndexed, StateDead} {
		assert.True(t, s.Terminal(), s)
		for _, to := range []State{StatePending, StateProcessing, StateIndexed, StateFailed, StateDead} {
			assert.False(t, CanTransition(s, to), "%s must not leave", s)
		}
	}
	assert.False(t, StateFailed.Terminal())
	assert.True(t, StatePending.Outstanding())
	assert.True(t, StateProcessing.Outstanding())
	assert.False(t, StateFailed.Outstanding())
	assert.False(t, State("BOGUS").Valid())
}
