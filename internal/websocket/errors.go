package websocket

import "errors"

var (
	// ErrConnectionClosed indicates a write against a closed session.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteBufferFull indicates the session's outbound queue is full.
	ErrWriteBufferFull = errors.New("write buffer full")
)
