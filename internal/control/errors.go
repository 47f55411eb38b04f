package control

import "errors"

var (
	// ErrSessionNotFound reports an operation on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidState reports an operation the session's current
	// lifecycle state does not permit.
	ErrInvalidState = errors.New("invalid session state")

	// ErrResourceExhausted reports that the active-session cap is
	// reached. Callers should end a session and retry.
	ErrResourceExhausted = errors.New("session limit reached")

	// ErrNameConflict reports a BeginSession name already held by a
	// live session.
	ErrNameConflict = errors.New("session name conflict")

	// ErrCheckpointNotFound reports a Restore against a checkpoint id
	// unknown to the store or belonging to another session.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
