package strategy

func nextState(current State, event Event) State {
	switch current {
	case StateIdle:
		if event == EventSubmitted {
			return StatePending
		}
	case StatePending:
		if event == EventFilled || event == EventReverted {
			return StateIdle
		}
	}
	return current
}
