package engine

import "github.com/MrWong99/medlingo/pkg/store"

// event is an input of the engine loop.
type event interface{}

type (
	startEvent struct{}

	interimEvent struct{ text string }

	// stopEvent carries the recognizer's final text when recognized is set.
	stopEvent struct {
		text       string
		recognized bool
	}

	captureLostEvent      struct{ err error }
	recognitionErrorEvent struct{ err error }

	translationDoneEvent struct {
		id          string
		translation string
		err         error
	}

	appendDoneEvent struct {
		id   string
		turn store.Turn
		err  error
	}

	turnsEvent  struct{ turns []store.Turn }
	liveEvent   struct{ slots []store.LiveSpeech }
	rosterEvent struct{ room store.Room }

	subscriptionClosedEvent struct{ topic string }

	liveFlushEvent struct{ gen uint64 }
	staleTickEvent struct{}

	languagesEvent struct{ src, dst string }
	dismissEvent   struct{}
)
