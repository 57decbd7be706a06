package router

import "errors"

// Router infrastructure errors. Domain rejections live in pkg/types.
var (
	ErrSenderNotConnected = errors.New("sender not connected")
	ErrMissingSender      = errors.New("message has no sender")
)
