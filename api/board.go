package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/storage"
)

const (
	boardRoute      = "/api/board"
	maxDocumentSize = 4 << 20
	// saveAttempts bounds the retries of a conditional write that lost a race
	// with another server instance.
	saveAttempts = 3
	anonymous    = "anonymous"
)

// Server serves the board document held in a Store.
type Server struct {
	store      storage.Store
	broker     *Broker
	log        *log.Logger
	credential string
	now        func() time.Time

	// writeMu serializes writes from this process so version numbers are
	// assigned in order.
	writeMu sync.Mutex
}

// Options configures Register.
type Options struct {
	// Credential, when set, is required as a bearer token on writes.
	Credential string
	Broker     *Broker
	Now        func() time.Time
}

type envelope struct {
	Success   bool             `json:"success"`
	Data      *domain.Document `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp string           `json:"timestamp"`
}

func failure(msg string) envelope {
	return envelope{Success: false, Error: msg, Timestamp: domain.Timestamp(time.Now())}
}

// documentPayload distinguishes a missing boards array from an empty one.
type documentPayload struct {
	Boards        *[]domain.Board `json:"boards"`
	LastUpdatedBy string          `json:"lastUpdatedBy"`
}

// Register wires up the board routes on the provided Echo instance.
func Register(e *echo.Echo, store storage.Store, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Server{
		store:      store,
		broker:     opts.Broker,
		log:        logger,
		credential: opts.Credential,
		now:        opts.Now,
	}
	if s.broker == nil {
		s.broker = NewBroker()
	}
	if s.now == nil {
		s.now = time.Now
	}
	e.HTTPErrorHandler = errorHandler(logger)
	e.Any(boardRoute, s.board, GzipRequestMiddleware())
	e.GET(boardRoute+"/stream", s.streamBoard)
	e.GET("/healthz", s.healthz)
	return s
}

// Broker returns the broker stream clients are attached to.
func (s *Server) Broker() *Broker { return s.broker }

func (s *Server) board(c echo.Context) (err error) {
	method := c.Request().Method
	metrics, ctx := newRequestMetrics(c.Request().Context(), s.log, boardRoute, method)
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	switch method {
	case http.MethodGet:
		return s.getBoard(c, metrics)
	case http.MethodPost, http.MethodPut:
		return s.putBoard(c, metrics)
	}
	metrics.Fail("method", nil)
	c.Response().Header().Set(echo.HeaderAllow, "GET, POST, PUT")
	return c.JSON(http.StatusMethodNotAllowed, failure("method not allowed"))
}

func (s *Server) getBoard(c echo.Context, metrics *requestMetrics) error {
	ctx := c.Request().Context()
	loadStart := time.Now()
	doc, err := s.current(ctx)
	metrics.ObserveLoad(time.Since(loadStart))
	if err != nil {
		metrics.Fail("storage", err)
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, failure("unable to load board"))
	}
	metrics.SetDocument(doc.Version, len(doc.Boards))
	return c.JSON(http.StatusOK, s.success(doc))
}

func (s *Server) putBoard(c echo.Context, metrics *requestMetrics) error {
	if err := checkCredential(c.Request().Header, s.credential); err != nil {
		metrics.Fail("auth", err)
		return c.JSON(http.StatusUnauthorized, failure(err.Error()))
	}
	doc, err := decodeDocument(c.Request().Body)
	if err != nil {
		metrics.Fail("decode", err)
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}

	saveStart := time.Now()
	saved, err := s.write(c.Request().Context(), doc)
	metrics.ObserveSave(time.Since(saveStart))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrVersionConflict) {
			status = http.StatusConflict
		}
		metrics.Fail("storage", err)
		c.Logger().Error(err)
		return c.JSON(status, failure("unable to save board"))
	}
	metrics.SetDocument(saved.Version, len(saved.Boards))
	s.broker.Notify()
	return c.JSON(http.StatusOK, s.success(saved))
}

func decodeDocument(body io.Reader) (domain.Document, error) {
	var p documentPayload
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, maxDocumentSize))
	if err := dec.Decode(&p); err != nil {
		return domain.Document{}, fmt.Errorf("%w: invalid body", domain.ErrValidation)
	}
	if p.Boards == nil {
		return domain.Document{}, fmt.Errorf("%w: boards array required", domain.ErrValidation)
	}
	doc := domain.Normalize(domain.Document{Boards: *p.Boards, LastUpdatedBy: strings.TrimSpace(p.LastUpdatedBy)})
	if err := domain.Validate(doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// write stores doc as the successor of the stored document. Conditional
// writes are retried when another writer got there first.
func (s *Server) write(ctx context.Context, doc domain.Document) (domain.Document, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if doc.LastUpdatedBy == "" {
		doc.LastUpdatedBy = anonymous
	}
	cs, conditional := s.store.(storage.ConditionalSaver)
	var err error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		var stored int64
		stored, err = s.storedVersion(ctx)
		if err != nil {
			return domain.Document{}, err
		}
		doc.Version = stored + 1
		doc.LastUpdated = domain.Timestamp(s.now())
		if !conditional {
			return doc, s.store.Save(ctx, doc)
		}
		err = cs.SaveIfVersion(ctx, doc, stored)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return domain.Document{}, err
		}
		s.log.WithFields(log.Fields{"attempt": attempt + 1, "version": doc.Version}).Warn("board write conflict, retrying")
	}
	return domain.Document{}, err
}

func (s *Server) storedVersion(ctx context.Context) (int64, error) {
	doc, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNoData):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return doc.Version, nil
}

// current loads the stored document, writing the default seed the first
// time the store turns out to be empty.
func (s *Server) current(ctx context.Context) (domain.Document, error) {
	doc, err := s.store.Load(ctx)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, domain.ErrNoData) {
		return domain.Document{}, err
	}
	seed := domain.Seed()
	if err := s.store.Save(ctx, seed); err != nil {
		s.log.WithError(err).Warn("unable to persist default board document")
	}
	return seed, nil
}

func (s *Server) success(doc domain.Document) envelope {
	return envelope{Success: true, Data: &doc, Timestamp: domain.Timestamp(s.now())}
}

func (s *Server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if _, err := s.store.Load(ctx); err != nil && !errors.Is(err, domain.ErrNoData) {
		c.Logger().Error(err)
		return c.String(http.StatusServiceUnavailable, "storage unavailable")
	}
	return c.NoContent(http.StatusOK)
}

func encode(doc domain.Document) ([]byte, error) {
	return sonic.ConfigStd.Marshal(domain.Normalize(doc))
}
