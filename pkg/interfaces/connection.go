package interfaces

// ClientSession represents one live transport connection.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between websocket infrastructure and relay logic
type ClientSession interface {
	// SessionID returns the opaque transport-assigned identifier.
	SessionID() string

	// WriteEvent sends one event frame to the client (thread-safe).
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented at interface
	// level so all implementations serialize writes through a single writer
	WriteEvent(event string, data interface{}) error

	// UserID returns the bound user identity, empty while anonymous.
	UserID() string

	// Username returns the display name announced with user_online.
	Username() string

	// IsIdentified reports whether a user_online has bound an identity.
	IsIdentified() bool

	// Identify binds a user identity to the session.
	Identify(userID, username string)

	// ClearIdentity reverts the session to anonymous after user_offline.
	ClearIdentity()

	// Close closes the connection and cleans up resources.
	Close() error
}
