package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const keepAliveInterval = 30 * time.Second

// Broker fans document changes out to stream clients. Each client holds at
// most one pending signal; a slow client only ever sees the latest document.
type Broker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan struct{}]struct{})}
}

func (b *Broker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Notify tells every stream client that the document changed.
func (b *Broker) Notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Clients returns the number of connected stream clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (s *Server) streamBoard(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, failure("stream unsupported"))
	}
	ctx := c.Request().Context()
	ch := s.broker.subscribe()
	defer s.broker.unsubscribe(ch)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		if err := s.writeFrame(ctx, c); err != nil {
			c.Logger().Error(err)
			if !c.Response().Committed {
				return c.JSON(http.StatusInternalServerError, failure("unable to load board"))
			}
			return nil
		}
		flusher.Flush()
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				break wait
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, c echo.Context) error {
	doc, err := s.current(ctx)
	if err != nil {
		return err
	}
	data, err := encode(doc)
	if err != nil {
		return err
	}
	w := c.Response()
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
