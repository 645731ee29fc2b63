package engine

import "fmt"

// State is the recording state of an [Engine].
type State int

const (
	// Idle: not recording and no translation outstanding.
	Idle State = iota

	// Recording: the local user is speaking. Translations of earlier
	// utterances may still be outstanding.
	Recording

	// Translating: not recording, at least one translation outstanding.
	Translating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Translating:
		return "translating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// input is what moves the engine between states.
type input int

const (
	inputStart input = iota
	inputStop
	inputCaptureLost
	inputTranslationDone
)

func (i input) String() string {
	switch i {
	case inputStart:
		return "start"
	case inputStop:
		return "stop"
	case inputCaptureLost:
		return "capture-lost"
	case inputTranslationDone:
		return "translation-done"
	default:
		return fmt.Sprintf("input(%d)", int(i))
	}
}

// transition is the only place the engine's state changes. outstanding is
// the number of translations in flight after in has been applied.
func transition(s State, in input, outstanding int) State {
	settled := Idle
	if outstanding > 0 {
		settled = Translating
	}
	switch in {
	case inputStart:
		return Recording
	case inputStop, inputCaptureLost:
		if s == Recording {
			return settled
		}
		return s
	case inputTranslationDone:
		if s == Recording {
			return Recording
		}
		return settled
	default:
		return s
	}
}
