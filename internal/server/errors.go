package server

import "errors"

var (
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrCommandQueueFull     = errors.New("command queue is full")
)
