package websocket

import "errors"

// WebSocket transport error types.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid json payload")
	ErrEmptyFrame       = errors.New("empty binary frame")
	ErrUnknownFrameKind = errors.New("unknown frame kind")
)
