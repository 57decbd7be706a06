package interfaces

// Connection is a client connection as seen by the broadcaster and router.
type Connection interface {
	// WriteJSON queues v for delivery. Safe for concurrent use; frames are
	// delivered in call order.
	WriteJSON(v interface{}) error

	Close() error

	// GetConnID returns the server-assigned connection id, which doubles
	// as the player id.
	GetConnID() string

	// GetSessionID returns the session the connection has joined, or "".
	GetSessionID() string
}
