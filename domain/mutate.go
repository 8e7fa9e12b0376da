package domain

import "strings"

// Mutation transforms a document into its successor. Implementations must
// not modify their input.
//
// The operations below treat a nil card list as an empty one, and a board
// they touch comes back with a non-nil list. Round trips such as adding then
// deleting a card therefore restore the document exactly when it is
// Normalized, and up to Normalize otherwise.
type Mutation func(Document) Document

// CardFields lists the editable card attributes. Nil fields are left alone.
type CardFields struct {
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	DueDate          *string `json:"dueDate,omitempty"`
	Assignee         *string `json:"assignee,omitempty"`
	BackgroundColor  *string `json:"backgroundColor,omitempty"`
	ReminderEmail    *string `json:"reminderEmail,omitempty"`
	ReminderDateTime *string `json:"reminderDateTime,omitempty"`
}

// IsEmpty reports whether no field is set.
func (f CardFields) IsEmpty() bool {
	return f.Title == nil && f.Description == nil && f.DueDate == nil && f.Assignee == nil &&
		f.BackgroundColor == nil && f.ReminderEmail == nil && f.ReminderDateTime == nil
}

func (f CardFields) apply(c Card) Card {
	if f.Title != nil && strings.TrimSpace(*f.Title) != "" {
		c.Title = *f.Title
	}
	if f.Description != nil {
		c.Description = *f.Description
	}
	if f.DueDate != nil {
		c.DueDate = *f.DueDate
	}
	if f.Assignee != nil {
		c.Assignee = *f.Assignee
	}
	if f.BackgroundColor != nil {
		c.BackgroundColor = *f.BackgroundColor
	}
	if f.ReminderEmail != nil {
		c.ReminderEmail = *f.ReminderEmail
	}
	if f.ReminderDateTime != nil {
		c.ReminderDateTime = *f.ReminderDateTime
	}
	return c
}

// BoardFields lists the editable board attributes.
type BoardFields struct {
	Title *string `json:"title,omitempty"`
	Color *string `json:"color,omitempty"`
}

func boardIndex(doc Document, boardID int64) int {
	for i, b := range doc.Boards {
		if b.ID == boardID {
			return i
		}
	}
	return -1
}

func cardIndex(cards []Card, cardID int64) int {
	for i, c := range cards {
		if c.ID == cardID {
			return i
		}
	}
	return -1
}

// FindCard returns the card with the given id and the id of the board
// holding it.
func FindCard(doc Document, cardID int64) (Card, int64, bool) {
	for _, b := range doc.Boards {
		if i := cardIndex(b.Cards, cardID); i >= 0 {
			return b.Cards[i], b.ID, true
		}
	}
	return Card{}, 0, false
}

// withBoard returns a copy of doc whose board at index i is replaced by b.
// Only the boards slice is copied; untouched boards share their cards.
func withBoard(doc Document, i int, b Board) Document {
	boards := make([]Board, len(doc.Boards))
	copy(boards, doc.Boards)
	boards[i] = b
	doc.Boards = boards
	return doc
}

func appendCard(cards []Card, c Card) []Card {
	out := make([]Card, len(cards), len(cards)+1)
	copy(out, cards)
	return append(out, c)
}

func removeCard(cards []Card, i int) []Card {
	out := make([]Card, 0, len(cards)-1)
	out = append(out, cards[:i]...)
	return append(out, cards[i+1:]...)
}

// AddCard appends card to the board boardID. The document is returned
// unchanged when the board does not exist, the card id is already taken or
// the title is blank.
func AddCard(doc Document, boardID int64, card Card) Document {
	bi := boardIndex(doc, boardID)
	if bi < 0 || strings.TrimSpace(card.Title) == "" {
		return doc
	}
	if _, _, exists := FindCard(doc, card.ID); exists {
		return doc
	}
	b := doc.Boards[bi]
	b.Cards = appendCard(b.Cards, card)
	return withBoard(doc, bi, b)
}

// DeleteCard removes cardID from boardID.
func DeleteCard(doc Document, boardID, cardID int64) Document {
	bi := boardIndex(doc, boardID)
	if bi < 0 {
		return doc
	}
	b := doc.Boards[bi]
	ci := cardIndex(b.Cards, cardID)
	if ci < 0 {
		return doc
	}
	b.Cards = removeCard(b.Cards, ci)
	return withBoard(doc, bi, b)
}

// MoveCard removes cardID from fromBoardID and appends it, unchanged, to
// toBoardID.
func MoveCard(doc Document, cardID, fromBoardID, toBoardID int64) Document {
	if fromBoardID == toBoardID {
		return doc
	}
	fi, ti := boardIndex(doc, fromBoardID), boardIndex(doc, toBoardID)
	if fi < 0 || ti < 0 {
		return doc
	}
	from, to := doc.Boards[fi], doc.Boards[ti]
	ci := cardIndex(from.Cards, cardID)
	if ci < 0 {
		return doc
	}
	card := from.Cards[ci]
	from.Cards = removeCard(from.Cards, ci)
	to.Cards = appendCard(to.Cards, card)
	out := withBoard(doc, fi, from)
	out.Boards[ti] = to
	return out
}

// EditCard shallow-merges fields into cardID on boardID. Blank titles are
// ignored since a card always has one.
func EditCard(doc Document, boardID, cardID int64, fields CardFields) Document {
	if fields.IsEmpty() {
		return doc
	}
	bi := boardIndex(doc, boardID)
	if bi < 0 {
		return doc
	}
	b := doc.Boards[bi]
	ci := cardIndex(b.Cards, cardID)
	if ci < 0 {
		return doc
	}
	edited := fields.apply(b.Cards[ci])
	if edited == b.Cards[ci] {
		return doc
	}
	cards := make([]Card, len(b.Cards))
	copy(cards, b.Cards)
	cards[ci] = edited
	b.Cards = cards
	return withBoard(doc, bi, b)
}

// AddBoard appends board unless a board with the same id exists or one of
// its cards collides with a card already in the document.
func AddBoard(doc Document, board Board) Document {
	if boardIndex(doc, board.ID) >= 0 {
		return doc
	}
	for _, c := range board.Cards {
		if _, _, exists := FindCard(doc, c.ID); exists {
			return doc
		}
	}
	if board.Cards == nil {
		board.Cards = []Card{}
	} else {
		board.Cards = append([]Card{}, board.Cards...)
	}
	boards := make([]Board, len(doc.Boards), len(doc.Boards)+1)
	copy(boards, doc.Boards)
	doc.Boards = append(boards, board)
	return doc
}

// DeleteBoard removes boardID together with its cards.
func DeleteBoard(doc Document, boardID int64) Document {
	bi := boardIndex(doc, boardID)
	if bi < 0 {
		return doc
	}
	boards := make([]Board, 0, len(doc.Boards)-1)
	boards = append(boards, doc.Boards[:bi]...)
	doc.Boards = append(boards, doc.Boards[bi+1:]...)
	return doc
}

// EditBoard updates the title and color of boardID. A blank title is ignored.
func EditBoard(doc Document, boardID int64, fields BoardFields) Document {
	bi := boardIndex(doc, boardID)
	if bi < 0 {
		return doc
	}
	b := doc.Boards[bi]
	changed := false
	if fields.Title != nil && strings.TrimSpace(*fields.Title) != "" && *fields.Title != b.Title {
		b.Title = *fields.Title
		changed = true
	}
	if fields.Color != nil && *fields.Color != b.Color {
		b.Color = *fields.Color
		changed = true
	}
	if !changed {
		return doc
	}
	return withBoard(doc, bi, b)
}
