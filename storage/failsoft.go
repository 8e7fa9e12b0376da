package storage

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// FailSoft makes Load never fail: read errors fall back to the last document
// seen by this process, or to the default seed. A backend reporting no data
// gets the seed written once.
type FailSoft struct {
	inner Store
	log   log.FieldLogger

	mu       sync.Mutex
	lastGood *domain.Document
}

// NewFailSoft wraps st. A nil logger uses the logrus standard logger.
func NewFailSoft(st Store, logger log.FieldLogger) *FailSoft {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &FailSoft{inner: st, log: logger}
}

// Unwrap returns the wrapped store.
func (f *FailSoft) Unwrap() Store { return f.inner }

func (f *FailSoft) Load(ctx context.Context) (domain.Document, error) {
	doc, err := f.inner.Load(ctx)
	if err == nil {
		f.remember(doc)
		return doc, nil
	}
	if errors.Is(err, domain.ErrNoData) {
		seed := domain.Seed()
		if saveErr := f.inner.Save(ctx, seed); saveErr != nil {
			f.log.WithError(saveErr).Warn("unable to persist default board document")
		}
		f.remember(seed)
		return seed, nil
	}
	f.log.WithError(err).Warn("board load failed, serving fallback document")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastGood != nil {
		return domain.Clone(*f.lastGood), nil
	}
	return domain.Seed(), nil
}

func (f *FailSoft) Save(ctx context.Context, doc domain.Document) error {
	if err := f.inner.Save(ctx, doc); err != nil {
		return err
	}
	f.remember(doc)
	return nil
}

// SaveStored reports the document the backend kept when it can tell, and
// doc otherwise.
func (f *FailSoft) SaveStored(ctx context.Context, doc domain.Document) (domain.Document, error) {
	ss, ok := f.inner.(StoredSaver)
	if !ok {
		if err := f.Save(ctx, doc); err != nil {
			return domain.Document{}, err
		}
		return doc, nil
	}
	stored, err := ss.SaveStored(ctx, doc)
	if err != nil {
		return domain.Document{}, err
	}
	f.remember(stored)
	return stored, nil
}

// SaveIfVersion uses the backend's conditional write when it has one and a
// plain Save otherwise.
func (f *FailSoft) SaveIfVersion(ctx context.Context, doc domain.Document, expected int64) error {
	cs, ok := f.inner.(ConditionalSaver)
	if !ok {
		return f.Save(ctx, doc)
	}
	if err := cs.SaveIfVersion(ctx, doc, expected); err != nil {
		return err
	}
	f.remember(doc)
	return nil
}

// Subscribe forwards to the backend when it supports push. Otherwise the
// callback is never invoked and the disposer does nothing.
func (f *FailSoft) Subscribe(ctx context.Context, onChange ChangeFunc, onError func(error)) (func(), error) {
	sub, ok := f.inner.(Subscriber)
	if !ok {
		return func() {}, nil
	}
	return sub.Subscribe(ctx, func(doc domain.Document) {
		f.remember(doc)
		onChange(doc)
	}, onError)
}

func (f *FailSoft) remember(doc domain.Document) {
	cp := domain.Clone(doc)
	f.mu.Lock()
	f.lastGood = &cp
	f.mu.Unlock()
}
