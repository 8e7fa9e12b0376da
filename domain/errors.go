package domain

import "errors"

var (
	// ErrNoData is returned by a store that holds no document yet.
	ErrNoData = errors.New("no board document stored")
	// ErrLoad wraps read failures (network, decoding).
	ErrLoad = errors.New("load board document")
	// ErrSave wraps write failures.
	ErrSave = errors.New("save board document")
	// ErrValidation marks a document that breaks the document invariants.
	ErrValidation = errors.New("invalid board document")
	// ErrSubscription wraps failures of a push channel.
	ErrSubscription = errors.New("board subscription")
	// ErrVersionConflict indicates that a conditional write observed a newer
	// version than the one the writer based its change on.
	ErrVersionConflict = errors.New("board version conflict")
)
