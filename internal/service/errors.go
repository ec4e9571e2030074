package service

import "errors"

// Operation-level failures shared across the communication services.
// Handlers map these onto HTTP statuses; none of them indicates a partial
// state change.
var (
	// ErrNotAuthorized indicates the actor is not a participant of the room
	// or a party of the mentorship match they tried to act on.
	ErrNotAuthorized = errors.New("actor not authorized for this resource")

	// ErrInvalidTransition indicates a session state machine violation,
	// including losing a concurrent transition race.
	ErrInvalidTransition = errors.New("session state does not permit this transition")

	// ErrNotFound indicates the room, session, message or match is absent.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates malformed input such as a disallowed file type
	// or an oversized attachment.
	ErrValidation = errors.New("invalid input")
)
