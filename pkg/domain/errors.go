package domain

import "errors"

// ErrStorage is wrapped by every backing store failure (open, write, finalize).
// It is fatal for the owning connection.
var ErrStorage = errors.New("backing store failure")

// ErrStoreFinalized is returned when writing to a store that has already been finalized.
var ErrStoreFinalized = errors.New("backing store already finalized")

// ErrStoreClosed is returned when using a store that has been discarded.
var ErrStoreClosed = errors.New("backing store closed")

// ErrStoreNotFinalized is returned when asking for the body of a store that is still open.
var ErrStoreNotFinalized = errors.New("backing store not finalized")

// ErrUnexpectedFragment is returned when a body fragment arrives on an idle connection.
var ErrUnexpectedFragment = errors.New("body fragment without an active session")

// ErrUnexpectedMessage is returned when a message head arrives while a body is still being aggregated.
var ErrUnexpectedMessage = errors.New("message head while a session is active")

// ErrSessionNotFound is returned when a session ID cannot be found in the registry.
var ErrSessionNotFound = errors.New("session not found")

// ErrConnectionClosed is returned when a unit is delivered to a gate that has been closed.
var ErrConnectionClosed = errors.New("connection closed")
