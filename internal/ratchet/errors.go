package ratchet

import "errors"

// Error kinds from spec §7. FatalInvariant additionally tears the session
// down; all others are surfaced to the caller with state unchanged.
var (
	ErrSessionMissing    = errors.New("ratchet: no session for (conversation, user)")
	ErrInvalidArgument   = errors.New("ratchet: invalid argument")
	ErrAuthFailure       = errors.New("ratchet: authentication failed")
	ErrTooManySkipped    = errors.New("ratchet: too many skipped messages")
	ErrMessageKeyMissing = errors.New("ratchet: message key not found for old message")
	ErrWeakPublicKey     = errors.New("ratchet: weak or invalid public key")
	ErrFatalInvariant    = errors.New("ratchet: internal invariant violated, session destroyed")
)
