package reminder

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Request describes one card reminder.
type Request struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	RecipientEmail string    `json:"recipientEmail"`
	ScheduledAt    time.Time `json:"scheduledAt"`
	BoardTitle     string    `json:"boardTitle"`
}

// Notifier delivers a reminder right away.
type Notifier interface {
	Send(ctx context.Context, req Request) error
}

// Recorder keeps a reminder for later delivery.
type Recorder interface {
	Record(ctx context.Context, req Request) error
}

// Dispatcher sends reminders that are due and records the rest. It never
// waits for a future reminder itself.
type Dispatcher struct {
	notifier Notifier
	recorder Recorder
	log      log.FieldLogger
	now      func() time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the logger used for dispatch decisions.
func WithLogger(logger log.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = logger }
}

func NewDispatcher(n Notifier, r Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{notifier: n, recorder: r, log: log.StandardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	if req.RecipientEmail == "" {
		return fmt.Errorf("reminder %q has no recipient", req.Title)
	}
	if req.ScheduledAt.IsZero() {
		return fmt.Errorf("reminder %q has no schedule", req.Title)
	}
	fields := log.Fields{
		"title":       req.Title,
		"recipient":   req.RecipientEmail,
		"scheduledAt": req.ScheduledAt.UTC().Format(time.RFC3339),
	}
	if !req.ScheduledAt.After(d.now()) {
		if d.notifier == nil {
			return fmt.Errorf("no notifier configured")
		}
		d.log.WithFields(fields).Debug("sending due reminder")
		if err := d.notifier.Send(ctx, req); err != nil {
			return fmt.Errorf("send reminder: %w", err)
		}
		return nil
	}
	if d.recorder == nil {
		return fmt.Errorf("no recorder configured")
	}
	d.log.WithFields(fields).Debug("recording future reminder")
	if err := d.recorder.Record(ctx, req); err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}
	return nil
}
