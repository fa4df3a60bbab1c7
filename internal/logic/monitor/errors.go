package monitor

import "errors"

var (
	ErrInvalidSelector  = errors.New("invalid selector")
	ErrUnknownPolicy    = errors.New("unknown correlation policy")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnknownLogicalID = errors.New("unknown logical pod id")
	ErrSourceExhausted  = errors.New("snapshot source retries exhausted")
	ErrCancelled        = errors.New("session cancelled")
)
