package session

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/reminder"
)

// AddCard creates card on boardID. A zero ID is replaced by a fresh one and
// the provenance fields are filled in. When the card carries a reminder it
// is dispatched once the save succeeded; a rejected add sends nothing.
func (c *Controller) AddCard(ctx context.Context, boardID int64, card domain.Card) (domain.Document, error) {
	if card.ID == 0 {
		card.ID = domain.NewID()
	}
	if card.CreatedBy == "" {
		card.CreatedBy = c.opts.DisplayName
	}
	if card.CreatedAt == "" {
		card.CreatedAt = domain.Timestamp(c.now())
	}
	doc, saved, err := c.apply(ctx, func(d domain.Document) domain.Document {
		return domain.AddCard(d, boardID, card)
	})
	if err != nil {
		return doc, err
	}
	if saved && card.HasReminder() {
		c.remind(ctx, doc, boardID, card)
	}
	return doc, nil
}

func (c *Controller) remind(ctx context.Context, doc domain.Document, boardID int64, card domain.Card) {
	if c.opts.Reminders == nil {
		return
	}
	if _, _, ok := domain.FindCard(doc, card.ID); !ok {
		return
	}
	fields := log.Fields{"card": card.ID, "recipient": card.ReminderEmail}
	at, err := domain.ParseTimestamp(card.ReminderDateTime)
	if err != nil {
		c.log.WithFields(fields).WithError(err).Warn("invalid reminder time")
		return
	}
	var boardTitle string
	for _, b := range doc.Boards {
		if b.ID == boardID {
			boardTitle = b.Title
			break
		}
	}
	req := reminder.Request{
		Title:          card.Title,
		RecipientEmail: strings.TrimSpace(card.ReminderEmail),
		ScheduledAt:    at,
		BoardTitle:     boardTitle,
	}
	if err := c.opts.Reminders.Dispatch(ctx, req); err != nil {
		c.log.WithFields(fields).WithError(err).Error("reminder dispatch failed")
	}
}

func (c *Controller) DeleteCard(ctx context.Context, boardID, cardID int64) (domain.Document, error) {
	return c.Apply(ctx, func(d domain.Document) domain.Document {
		return domain.DeleteCard(d, boardID, cardID)
	})
}

func (c *Controller) MoveCard(ctx context.Context, cardID, fromBoardID, toBoardID int64) (domain.Document, error) {
	return c.Apply(ctx, func(d domain.Document) domain.Document {
		return domain.MoveCard(d, cardID, fromBoardID, toBoardID)
	})
}

func (c *Controller) EditCard(ctx context.Context, boardID, cardID int64, fields domain.CardFields) (domain.Document, error) {
	return c.Apply(ctx, func(d domain.Document) domain.Document {
		return domain.EditCard(d, boardID, cardID, fields)
	})
}

// AddBoard appends an empty board. A zero ID is replaced by a fresh one.
func (c *Controller) AddBoard(ctx context.Context, board domain.Board) (domain.Document, error) {
	if board.ID == 0 {
		board.ID = domain.NewID()
	}
	return c.Apply(ctx, func(d domain.Document) domain.Document {
		return domain.AddBoard(d, board)
	})
}

func (c *Controller) DeleteBoard(ctx context.Context, boardID int64) (domain.Document, error) {
	return c.Apply(ctx, func(d domain.Document) domain.Document {
		return domain.DeleteBoard(d, boardID)
	})
}

func (c *Controller) EditBoard(ctx context.Context, boardID int64, fields domain.BoardFields) (domain.Document, error) {
	return c.Apply(ctx, func(d domain.Document) domain.Document {
		return domain.EditBoard(d, boardID, fields)
	})
}
