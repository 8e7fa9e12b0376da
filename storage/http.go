package storage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const maxResponseSize = 4 << 20

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	EndpointURL string
	// Credential is sent in CredentialHeader on every request. For the
	// Authorization header it is sent as a bearer token.
	Credential       string
	CredentialHeader string
	// PayloadField names the wrapper field holding the document in GET
	// responses; empty means the body is the document itself.
	PayloadField string
	// StreamURL enables Subscribe over Server-Sent Events.
	StreamURL string
	Client    *http.Client
	Logger    log.FieldLogger
}

// HTTPStore reads the document with GET and replaces it with PUT. It serves
// both hosted JSON buckets and the board server.
type HTTPStore struct {
	opts   HTTPOptions
	client *http.Client
	log    log.FieldLogger
}

// NewHTTP returns a store for opts.
func NewHTTP(opts HTTPOptions) *HTTPStore {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &HTTPStore{opts: opts, client: client, log: logger}
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.opts.Credential == "" || s.opts.CredentialHeader == "" {
		return
	}
	value := s.opts.Credential
	if strings.EqualFold(s.opts.CredentialHeader, "Authorization") {
		value = "Bearer " + value
	}
	req.Header.Set(s.opts.CredentialHeader, value)
}

func (s *HTTPStore) Load(ctx context.Context) (domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.EndpointURL, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	req.Header.Set("Accept", "application/json")
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: read body: %v", domain.ErrLoad, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.Document{}, domain.ErrNoData
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Document{}, fmt.Errorf("%w: GET %s: status %d: %s", domain.ErrLoad, s.opts.EndpointURL, resp.StatusCode, snippet(body))
	}
	return decodeWrapped(body, s.opts.PayloadField)
}

func (s *HTTPStore) Save(ctx context.Context, doc domain.Document) error {
	_, err := s.SaveStored(ctx, doc)
	return err
}

// SaveStored PUTs doc and returns the document echoed in the response
// envelope. Responses without a usable document yield doc itself.
func (s *HTTPStore) SaveStored(ctx context.Context, doc domain.Document) (domain.Document, error) {
	payload, err := encodeDocument(doc)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: encode: %v", domain.ErrSave, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.opts.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Document{}, fmt.Errorf("%w: PUT %s: status %d: %s", domain.ErrSave, s.opts.EndpointURL, resp.StatusCode, snippet(body))
	}
	if s.opts.PayloadField == "" || len(body) == 0 {
		return domain.Normalize(doc), nil
	}
	stored, err := decodeWrapped(body, s.opts.PayloadField)
	if err != nil {
		s.log.WithError(err).Debug("save response carried no document")
		return domain.Normalize(doc), nil
	}
	return stored, nil
}

// Subscribe follows the SSE stream at StreamURL, reconnecting with backoff
// until the disposer is called. Without a stream URL it never delivers.
func (s *HTTPStore) Subscribe(_ context.Context, onChange ChangeFunc, onError func(error)) (func(), error) {
	if s.opts.StreamURL == "" {
		return func() {}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		backoff := time.Second
		for {
			err := s.stream(ctx, onChange)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = fmt.Errorf("stream %s ended", s.opts.StreamURL)
			}
			s.log.WithError(err).Warn("board stream dropped, reconnecting")
			if onError != nil {
				onError(fmt.Errorf("%w: %v", domain.ErrSubscription, err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *HTTPStore) stream(ctx context.Context, onChange ChangeFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.StreamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	s.authorize(req)
	// The stream outlives any client timeout.
	client := *s.client
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			doc, err := decodeDocument(data.Bytes())
			data.Reset()
			if err != nil {
				s.log.WithError(err).Error("unable to parse board stream frame")
				continue
			}
			onChange(doc)
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
