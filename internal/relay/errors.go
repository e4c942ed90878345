package relay

import "errors"

var (
	// ErrRateLimited indicates a sender exhausted its message window.
	ErrRateLimited = errors.New("rate limit exceeded")
)
