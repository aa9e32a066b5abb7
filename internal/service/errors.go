package service

import "errors"

// Common service errors
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrServiceStopped = errors.New("matchmaking service stopped")
)

// Matchmaking errors
var (
	// ErrUnknownPlayer marks a queued player with no registry entry. The
	// entry is dropped from the queue rather than aborting the poll.
	ErrUnknownPlayer = errors.New("player not in rating registry")
	ErrMatchNotFound = errors.New("match not found")
	ErrInvalidWinner = errors.New("invalid winner")
)
