package session

import (
	"errors"
	"time"

	"prism-board/domain"
)

// State is the lifecycle position of a Controller.
type State int

const (
	Connecting State = iota
	Ready
	Saving
	Error
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Saving:
		return "saving"
	case Error:
		return "error"
	}
	return "unknown"
}

var (
	// ErrClosed is returned by operations on a closed Controller.
	ErrClosed = errors.New("session closed")
	// ErrNotReady is returned when a mutation is attempted before the
	// document has been loaded.
	ErrNotReady = errors.New("session not ready")
	// ErrConnected is returned by a second call to Connect. Use Reconnect.
	ErrConnected = errors.New("session already connected")
)

// Snapshot is the observable state of a Controller.
type Snapshot struct {
	State    State
	Document domain.Document
	// LastSaved is the time of the most recent successful save.
	LastSaved time.Time
	// SaveFailed is set by a failed save and cleared by the next success.
	SaveFailed bool
	// Connected reports whether the document was loaded and the push
	// channel, if the store has one, is up.
	Connected bool
	Err       error
}
