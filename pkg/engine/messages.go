package engine

import (
	"errors"

	"github.com/MrWong99/medlingo/pkg/gateway"
	"github.com/MrWong99/medlingo/pkg/store"
)

// User-facing messages of the error surface.
const (
	msgRoomEnded    = "This room has ended."
	msgRoomNotFound = "Room not found."
	msgRoomFull     = "This room already has two participants."
	msgRoomLost     = "Lost connection to the room."
	msgSaveFailed   = "Failed to save the conversation turn."
	msgRateLimited  = "Translation rate limit hit. Please wait and try again."
)

var errEmptyTranslation = errors.New("engine: translation result was empty")

// translationMessage words a failed translation, preferring the gateway's
// own message.
func translationMessage(err error) string {
	var ge *gateway.Error
	switch {
	case gateway.IsRateLimited(err):
		return msgRateLimited
	case errors.As(err, &ge):
		return "Translation Error: " + ge.Message
	case errors.Is(err, errEmptyTranslation):
		return "Translation Error: Translation result was empty."
	default:
		return "Translation Error: " + err.Error()
	}
}

// roomFailure reports whether err means the room cannot be used any more.
func roomFailure(err error) (string, bool) {
	switch {
	case errors.Is(err, store.ErrRoomEnded):
		return msgRoomEnded, true
	case errors.Is(err, store.ErrRoomNotFound):
		return msgRoomNotFound, true
	case errors.Is(err, store.ErrRoomFull):
		return msgRoomFull, true
	default:
		return "", false
	}
}
