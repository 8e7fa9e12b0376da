package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/reminder"
	"prism-board/storage"
)

// Reminders receives the reminder of every card added with one.
type Reminders interface {
	Dispatch(ctx context.Context, req reminder.Request) error
}

// Options configures a Controller.
type Options struct {
	// DisplayName is recorded as the author of every save and new card.
	DisplayName string
	// ConditionalSave writes through storage.ConditionalSaver when the store
	// supports it. A version conflict rolls back and triggers a refresh.
	ConditionalSave bool
	Reminders       Reminders
	Logger          log.FieldLogger
	Now             func() time.Time
}

// Controller reconciles one client's optimistic copy of the board document
// with a Store. Methods are safe for concurrent use; store I/O happens
// outside the lock.
//
// Saves are neither queued nor debounced. When saves overlap, the held
// document is whichever result arrived last.
type Controller struct {
	store storage.Store
	opts  Options
	log   log.FieldLogger
	now   func() time.Time

	mu          sync.Mutex
	state       State
	doc         domain.Document
	loaded      bool
	lastSaved   time.Time
	saveFailed  bool
	connected   bool
	err         error
	pending     int
	started     bool
	closed      bool
	gen         uint64
	unsubscribe func()

	observers map[int]func(Snapshot)
	nextObs   int
}

// New returns a Controller in the Connecting state. Call Connect to load
// the document.
func New(store storage.Store, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.DisplayName == "" {
		opts.DisplayName = "anonymous"
	}
	return &Controller{
		store:     store,
		opts:      opts,
		log:       logger.WithField("session", uuid.NewString()),
		now:       now,
		state:     Connecting,
		observers: make(map[int]func(Snapshot)),
	}
}

// OnChange registers fn to receive a Snapshot after every transition. The
// returned function removes it.
func (c *Controller) OnChange(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Document returns the held document.
func (c *Controller) Document() domain.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Clone(c.doc)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:      c.state,
		Document:   domain.Clone(c.doc),
		LastSaved:  c.lastSaved,
		SaveFailed: c.saveFailed,
		Connected:  c.connected,
		Err:        c.err,
	}
}

// unlockAndNotify releases the lock and hands a snapshot to every observer.
func (c *Controller) unlockAndNotify() {
	snap := c.snapshotLocked()
	obs := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}

// Connect loads the document and subscribes to pushes when the store
// supports them. A load failure leaves the Controller in Error holding the
// previous document or the default seed.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrConnected
	}
	c.started = true
	return c.connectLocked(ctx)
}

// connectLocked is entered with c.mu held and releases it.
func (c *Controller) connectLocked(ctx context.Context) error {
	c.state = Connecting
	gen := c.gen
	c.unlockAndNotify()

	doc, err := c.store.Load(ctx)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		c.log.WithError(err).Error("board load failed")
		c.state = Error
		c.err = err
		c.connected = false
		if !c.loaded {
			c.doc = domain.Seed()
		}
		c.unlockAndNotify()
		return err
	}
	c.doc = domain.Normalize(doc)
	c.loaded = true
	c.state = Ready
	c.err = nil
	sub, push := c.store.(storage.Subscriber)
	c.connected = !push
	c.unlockAndNotify()

	if push {
		c.subscribe(ctx, sub, gen)
	}
	return nil
}

func (c *Controller) subscribe(ctx context.Context, sub storage.Subscriber, gen uint64) {
	stop, err := sub.Subscribe(ctx, func(doc domain.Document) {
		c.receive(gen, doc)
	}, func(err error) {
		c.dropped(gen, err)
	})
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		return
	}
	if err != nil {
		c.log.WithError(err).Warn("board subscription failed")
		c.connected = false
		c.err = err
		c.unlockAndNotify()
		return
	}
	prev := c.unsubscribe
	c.unsubscribe = stop
	c.connected = true
	if prev != nil {
		defer prev()
	}
	c.unlockAndNotify()
}

// receive replaces the held document with a pushed one.
func (c *Controller) receive(gen uint64, doc domain.Document) {
	c.mu.Lock()
	if c.closed || gen != c.gen || (c.state != Ready && c.state != Saving) {
		c.mu.Unlock()
		return
	}
	c.doc = domain.Normalize(doc)
	c.connected = true
	c.unlockAndNotify()
}

func (c *Controller) dropped(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.log.WithError(err).Warn("board push channel dropped")
	c.connected = false
	c.err = err
	c.unlockAndNotify()
}

// Reconnect releases the current subscription and connects again. It is
// accepted in Error, and in Ready once the push channel has dropped; while a
// save is in flight it returns ErrNotReady.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.started || (c.state != Error && (c.state != Ready || c.connected || c.pending > 0)) {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.gen++
	c.state = Connecting
	stop := c.unsubscribe
	c.unsubscribe = nil
	if stop != nil {
		c.mu.Unlock()
		stop()
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
	}
	return c.connectLocked(ctx)
}

// Refresh reloads the document while Ready. A failed load keeps the held
// document.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	gen := c.gen
	c.mu.Unlock()

	doc, err := c.store.Load(ctx)
	if err != nil {
		c.log.WithError(err).Warn("board refresh failed")
		return err
	}

	c.mu.Lock()
	if c.closed || gen != c.gen || c.state != Ready {
		c.mu.Unlock()
		return nil
	}
	c.doc = domain.Normalize(doc)
	c.unlockAndNotify()
	return nil
}

// Close releases the subscription. Results of requests still in flight are
// ignored once Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	stop := c.unsubscribe
	c.unsubscribe = nil
	c.observers = make(map[int]func(Snapshot))
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Apply runs m on the held document, holds the result right away and
// persists it. On failure the document held before m is restored and the
// save error returned. A mutation that changes nothing is not saved.
func (c *Controller) Apply(ctx context.Context, m domain.Mutation) (domain.Document, error) {
	doc, _, err := c.apply(ctx, m)
	return doc, err
}

// apply is Apply that also reports whether m changed anything and was saved.
func (c *Controller) apply(ctx context.Context, m domain.Mutation) (domain.Document, bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.Document{}, false, ErrClosed
	}
	if c.state != Ready && c.state != Saving {
		c.mu.Unlock()
		return domain.Document{}, false, ErrNotReady
	}
	prev := c.doc
	next := m(domain.Clone(prev))
	if reflect.DeepEqual(next, prev) {
		c.mu.Unlock()
		return domain.Clone(prev), false, nil
	}
	now := c.now()
	next.Version = prev.Version + 1
	next.LastUpdated = domain.Timestamp(now)
	next.LastUpdatedBy = c.opts.DisplayName
	next = domain.Normalize(next)
	c.doc = next
	c.state = Saving
	c.pending++
	gen := c.gen
	c.unlockAndNotify()

	stored, err := c.save(ctx, next, prev.Version)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if err != nil {
			return domain.Clone(next), false, err
		}
		return domain.Clone(next), false, ErrClosed
	}
	c.pending--
	if c.pending == 0 {
		c.state = Ready
	}
	if err != nil {
		c.log.WithError(err).WithField("version", next.Version).Error("board save failed, rolling back")
		c.doc = prev
		c.saveFailed = true
		c.err = err
		c.unlockAndNotify()
		if c.opts.ConditionalSave && errors.Is(err, domain.ErrVersionConflict) {
			if rerr := c.Refresh(ctx); rerr != nil && !errors.Is(rerr, ErrNotReady) {
				c.log.WithError(rerr).Warn("refresh after version conflict failed")
			}
		}
		return domain.Clone(prev), false, err
	}
	c.doc = stored
	c.lastSaved = c.now()
	c.saveFailed = false
	c.err = nil
	c.log.WithFields(log.Fields{"version": stored.Version, "boards": len(stored.Boards)}).Debug("board saved")
	c.unlockAndNotify()
	return domain.Clone(stored), true, nil
}

// save persists doc and returns the document to hold afterwards. Stores that
// rewrite the document on save, like the board server stamping its own
// version, have their copy adopted.
func (c *Controller) save(ctx context.Context, doc domain.Document, expected int64) (domain.Document, error) {
	if c.opts.ConditionalSave {
		if cs, ok := c.store.(storage.ConditionalSaver); ok {
			return doc, cs.SaveIfVersion(ctx, doc, expected)
		}
	}
	if ss, ok := c.store.(storage.StoredSaver); ok {
		stored, err := ss.SaveStored(ctx, doc)
		if err != nil {
			return doc, err
		}
		return domain.Normalize(stored), nil
	}
	return doc, c.store.Save(ctx, doc)
}
