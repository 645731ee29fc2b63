package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/medlingo/pkg/store"
)

// Topics accepted by the subscription endpoint.
const (
	TopicRoster = "roster"
	TopicTurns  = "turns"
	TopicLive   = "live"
)

// Route patterns of the room server.
const (
	RouteCreate    = "POST /api/rooms"
	RouteGet       = "GET /api/rooms/{code}"
	RouteJoin      = "POST /api/rooms/{code}/join"
	RouteLeave     = "POST /api/rooms/{code}/leave"
	RouteEnd       = "POST /api/rooms/{code}/end"
	RouteTurns     = "POST /api/rooms/{code}/turns"
	RouteSetLive   = "PUT /api/rooms/{code}/live/{speakerID}"
	RouteClearLive = "DELETE /api/rooms/{code}/live/{speakerID}"
	RouteSubscribe = "GET /api/rooms/{code}/ws"
)

// LeaveRequest is the body of the leave endpoint.
type LeaveRequest struct {
	ParticipantID string `json:"participantId"`
}

// ErrorResponse is the body of every non-2xx response. Code identifies the
// store error class so that clients can restore the sentinel.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in [ErrorResponse.Code].
const (
	CodeNotFound           = "room_not_found"
	CodeFull               = "room_full"
	CodeEnded              = "room_ended"
	CodeInvalidTurn        = "invalid_turn"
	CodeInvalidParticipant = "invalid_participant"
	CodeInvalidRequest     = "invalid_request"
	CodeInternal           = "internal"
)

var classes = []struct {
	err    error
	code   string
	status int
}{
	{store.ErrRoomNotFound, CodeNotFound, http.StatusNotFound},
	{store.ErrRoomFull, CodeFull, http.StatusConflict},
	{store.ErrRoomEnded, CodeEnded, http.StatusGone},
	{store.ErrInvalidTurn, CodeInvalidTurn, http.StatusBadRequest},
	{store.ErrInvalidParticipant, CodeInvalidParticipant, http.StatusBadRequest},
}

// Classify returns the HTTP status and error code for a store error.
func Classify(err error) (status int, code string) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// decodeError restores a store sentinel from a server error response.
func decodeError(status int, body ErrorResponse) error {
	for _, c := range classes {
		if body.Code == c.code {
			detail, ok := strings.CutPrefix(body.Error, c.err.Error())
			switch {
			case ok && detail == "":
				return c.err
			case ok:
				return fmt.Errorf("%w%s", c.err, detail)
			default:
				return fmt.Errorf("%w: %s", c.err, body.Error)
			}
		}
	}
	if body.Code == "" {
		// Proxies and older servers only send a status.
		for _, c := range classes {
			if status == c.status && status != http.StatusBadRequest {
				return c.err
			}
		}
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("remote store: server returned %d: %s", status, msg)
}
