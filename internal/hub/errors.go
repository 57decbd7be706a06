package hub

import "errors"

var (
	ErrHubAlreadyRunning     = errors.New("hub is already running")
	ErrHubNotRunning         = errors.New("hub is not running")
	ErrSenderNotConnected    = errors.New("sender is not registered")
	ErrMessageChannelFull    = errors.New("command queue is full")
	ErrUnregisterChannelFull = errors.New("disconnect queue is full")
)
