package strategy

import "testing"

func TestNextStateTransitions(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{StateIdle, EventSubmitted, StatePending},
		{StatePending, EventFilled, StateIdle},
		{StatePending, EventReverted, StateIdle},
	}
	for _, tc := range cases {
		if got := nextState(tc.from, tc.event); got != tc.want {
			t.Fatalf("%s + %s: expected %s, got %s", tc.from, tc.event, tc.want, got)
		}
	}
}

func TestNextStateInvalidTransition(t *testing.T) {
	if nextState(StateIdle, EventFilled) != StateIdle {
		t.Fatalf("fill while idle should not change state")
	}
	if nextState(StateIdle, EventReverted) != StateIdle {
		t.Fatalf("revert while idle should not change state")
	}
	if nextState(StatePending, EventSubmitted) != StatePending {
		t.Fatalf("submit while pending should not change state")
	}
}
