package types

import "errors"

// Rejection is a domain error with a stable machine-readable reason that is
// sent back to the originating client.
type Rejection struct {
	Reason string
	msg    string
}

func (r *Rejection) Error() string {
	return r.msg
}

func reject(reason, msg string) *Rejection {
	return &Rejection{Reason: reason, msg: msg}
}

var (
	ErrSessionNotFound         = reject("session_not_found", "session not found")
	ErrDuplicateSession        = reject("duplicate_session", "session already exists")
	ErrRoomFull                = reject("room_full", "session is full")
	ErrNameTaken               = reject("name_taken", "player name already taken")
	ErrNotHost                 = reject("not_host", "only the host can edit the habitat")
	ErrInvalidPlacement        = reject("invalid_placement", "area cannot be placed there")
	ErrAreaNotFound            = reject("area_not_found", "area not found")
	ErrNothingToUndo           = reject("nothing_to_undo", "nothing to undo")
	ErrNothingToRedo           = reject("nothing_to_redo", "nothing to redo")
	ErrMissionNotFound         = reject("mission_not_found", "mission not found")
	ErrMissionAlreadyActive    = reject("already_active", "mission already active")
	ErrMissionAlreadyCompleted = reject("already_completed", "mission already completed")
	ErrEventNotFound           = reject("event_not_found", "event not found")
	ErrNotInSession            = reject("not_in_session", "connection has not joined a session")
	ErrForbidden               = reject("forbidden", "operation not allowed in this environment")
	ErrInvalidPayload          = reject("invalid_payload", "invalid message payload")
	ErrUnknownMessageType      = reject("unknown_type", "unknown message type")
	ErrRateLimited             = reject("rate_limited", "too many messages")
)

// Validation errors.
var (
	ErrInvalidPlayerName = reject("invalid_payload", "player name must be 1-24 printable characters")
	ErrInvalidSessionID  = reject("invalid_payload", "session id must be 4-12 letters or digits")
	ErrInvalidChatText   = reject("invalid_payload", "chat text must be 1-500 characters")
	ErrInvalidAreaType   = reject("invalid_payload", "unknown area type")
)

// ReasonOf returns the machine reason carried by err, or "internal_error" when
// err is not a Rejection.
func ReasonOf(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return "internal_error"
}
