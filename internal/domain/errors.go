package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNoRoute        = errors.New("no route")
	ErrRateLimited    = errors.New("rate limited")
	ErrHalted         = errors.New("circuit breaker halted")
	ErrConfirmTimeout = errors.New("confirmation timed out")
	ErrWSDisconnect   = errors.New("websocket disconnected")
)
