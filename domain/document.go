package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 form used for LastUpdated and CreatedAt.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Document is the single persisted aggregate holding every board and card.
type Document struct {
	Boards        []Board `json:"boards"`
	Version       int64   `json:"version"`
	LastUpdated   string  `json:"lastUpdated,omitempty"`
	LastUpdatedBy string  `json:"lastUpdatedBy,omitempty"`
}

// Board is a named, ordered column of cards.
type Board struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
	Cards []Card `json:"cards"`
}

// Card is a task unit. Only ID and Title matter to the engine, the rest is
// carried through untouched.
type Card struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	DueDate          string `json:"dueDate,omitempty"`
	Assignee         string `json:"assignee,omitempty"`
	BackgroundColor  string `json:"backgroundColor,omitempty"`
	ReminderEmail    string `json:"reminderEmail,omitempty"`
	ReminderDateTime string `json:"reminderDateTime,omitempty"`
	CreatedBy        string `json:"createdBy,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
}

// HasReminder reports whether both reminder fields are set.
func (c Card) HasReminder() bool {
	return strings.TrimSpace(c.ReminderEmail) != "" && strings.TrimSpace(c.ReminderDateTime) != ""
}

// Timestamp formats t the way documents store times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the document layout as well as plain RFC 3339 and
// the "datetime-local" form browsers submit.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Normalize replaces nil board and card slices with empty ones so the
// document never serialises them as null.
func Normalize(doc Document) Document {
	if doc.Boards == nil {
		doc.Boards = []Board{}
		return doc
	}
	needsCopy := false
	for _, b := range doc.Boards {
		if b.Cards == nil {
			needsCopy = true
			break
		}
	}
	if !needsCopy {
		return doc
	}
	boards := make([]Board, len(doc.Boards))
	copy(boards, doc.Boards)
	for i := range boards {
		if boards[i].Cards == nil {
			boards[i].Cards = []Card{}
		}
	}
	doc.Boards = boards
	return doc
}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	out := doc
	if doc.Boards == nil {
		return out
	}
	out.Boards = make([]Board, len(doc.Boards))
	for i, b := range doc.Boards {
		out.Boards[i] = b
		if b.Cards != nil {
			out.Boards[i].Cards = make([]Card, len(b.Cards))
			copy(out.Boards[i].Cards, b.Cards)
		}
	}
	return out
}

// Validate checks the document invariants: unique board ids, unique card ids
// across all boards and non-empty card titles.
func Validate(doc Document) error {
	boards := make(map[int64]struct{}, len(doc.Boards))
	cards := make(map[int64]int64)
	for _, b := range doc.Boards {
		if _, dup := boards[b.ID]; dup {
			return fmt.Errorf("%w: duplicate board id %d", ErrValidation, b.ID)
		}
		boards[b.ID] = struct{}{}
		for _, c := range b.Cards {
			if owner, dup := cards[c.ID]; dup {
				return fmt.Errorf("%w: card %d present in boards %d and %d", ErrValidation, c.ID, owner, b.ID)
			}
			cards[c.ID] = b.ID
			if strings.TrimSpace(c.Title) == "" {
				return fmt.Errorf("%w: card %d has an empty title", ErrValidation, c.ID)
			}
		}
	}
	return nil
}
