package interfaces

import "habitat/pkg/types"

// Broadcaster delivers server frames to session members.
type Broadcaster interface {
	// Publish sends msg to every connection bound to the session, immediately.
	Publish(sessionID string, msg *types.Outbound)

	// SendTo sends msg to a single connection. Never throttled.
	SendTo(connID string, msg *types.Outbound) error

	// MarkDirty schedules a throttled session_state snapshot. Changes
	// inside one throttle window coalesce into one emission at its end.
	MarkDirty(sessionID string)

	// EmitNow sends a session_state snapshot immediately, bypassing the
	// throttle.
	EmitNow(sessionID string)
}
