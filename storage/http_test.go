package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// fakeBucket mimics a hosted JSON bucket: GET wraps the record, PUT replaces it.
type fakeBucket struct {
	mu      sync.Mutex
	record  []byte
	headers http.Header
	status  int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.headers = r.Header.Clone()
	if b.status != 0 {
		http.Error(w, "bucket unavailable", b.status)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if b.record == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"record":%s,"metadata":{"private":true}}`, b.record)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.record = body
		fmt.Fprintf(w, `{"record":%s}`, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newBucketStore(t *testing.T, bucket *fakeBucket) Store {
	t.Helper()
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)
	st, err := New(Options{Kind: KindBucket, EndpointURL: srv.URL, Credential: "secret"})
	if err != nil {
		t.Fatalf("new bucket store: %v", err)
	}
	return st
}

func TestBucketStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := &fakeBucket{}
	st := newBucketStore(t, bucket)

	if _, err := st.Load(ctx); !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if err := st.Save(ctx, sampleDocument()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, sampleDocument()) {
		t.Fatalf("unexpected document: %#v", got)
	}
	if key := bucket.headers.Get("X-Master-Key"); key != "secret" {
		t.Fatalf("expected credential header, got %q", key)
	}
}

func TestBucketStoreErrors(t *testing.T) {
	ctx := context.Background()
	bucket := &fakeBucket{status: http.StatusBadGateway}
	st := newBucketStore(t, bucket)

	if _, err := st.Load(ctx); !errors.Is(err, domain.ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
	if err := st.Save(ctx, sampleDocument()); !errors.Is(err, domain.ErrSave) {
		t.Fatalf("expected ErrSave, got %v", err)
	}
}

func TestBucketStoreMalformedRecord(t *testing.T) {
	bucket := &fakeBucket{record: []byte(`{"title":"not a board document"}`)}
	st := newBucketStore(t, bucket)
	if _, err := st.Load(context.Background()); !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData for record without boards, got %v", err)
	}
}

func TestServerStoreEnvelopeAndBearer(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := sonic.Marshal(map[string]any{
			"success":   true,
			"data":      sampleDocument(),
			"timestamp": "2024-05-01T10:00:00.000Z",
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	st, err := New(Options{Kind: KindServer, EndpointURL: srv.URL, Credential: "token"})
	if err != nil {
		t.Fatalf("new server store: %v", err)
	}
	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, sampleDocument()) {
		t.Fatalf("unexpected document: %#v", got)
	}
	if auth != "Bearer token" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
}

func TestServerStoreSaveStoredAdoptsAssignedVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc domain.Document
		body, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(body, &doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		doc.Version = 42
		doc.LastUpdated = "2024-05-01T11:00:00.000Z"
		out, _ := sonic.Marshal(map[string]any{"success": true, "data": doc})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	st, err := New(Options{Kind: KindServer, EndpointURL: srv.URL})
	if err != nil {
		t.Fatalf("new server store: %v", err)
	}
	saver, ok := st.(StoredSaver)
	if !ok {
		t.Fatal("server store does not report stored documents")
	}
	got, err := saver.SaveStored(context.Background(), sampleDocument())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.Version != 42 || got.LastUpdated != "2024-05-01T11:00:00.000Z" {
		t.Fatalf("server assignment not adopted: %+v", got)
	}
	if len(got.Boards) != len(sampleDocument().Boards) {
		t.Fatalf("unexpected boards: %+v", got.Boards)
	}
}

func TestServerStoreSaveStoredWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	st := NewHTTP(HTTPOptions{EndpointURL: srv.URL, PayloadField: "data"})
	got, err := st.SaveStored(context.Background(), sampleDocument())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !reflect.DeepEqual(got, sampleDocument()) {
		t.Fatalf("expected the sent document back, got %#v", got)
	}
}

func TestHTTPStoreSubscribeParsesEvents(t *testing.T) {
	frame, err := encodeDocument(sampleDocument())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {broken\n\n")
		fmt.Fprintf(w, "event: board\ndata: %s\n\n", frame)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	st := NewHTTP(HTTPOptions{EndpointURL: srv.URL, StreamURL: srv.URL})
	updates := make(chan domain.Document, 2)
	stop, err := st.Subscribe(context.Background(), func(doc domain.Document) { updates <- doc }, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	select {
	case doc := <-updates:
		if !reflect.DeepEqual(doc, sampleDocument()) {
			t.Fatalf("unexpected document: %#v", doc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHTTPStoreSubscribeReportsDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := NewHTTP(HTTPOptions{EndpointURL: srv.URL, StreamURL: srv.URL})
	errs := make(chan error, 4)
	stop, err := st.Subscribe(context.Background(), func(domain.Document) {}, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	select {
	case err := <-errs:
		if !errors.Is(err, domain.ErrSubscription) {
			t.Fatalf("expected ErrSubscription, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream error")
	}
}

func TestHTTPStoreSubscribeWithoutStream(t *testing.T) {
	st := NewHTTP(HTTPOptions{EndpointURL: "http://example.invalid"})
	stop, err := st.Subscribe(context.Background(), func(domain.Document) {
		t.Fatal("unexpected delivery")
	}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()
}
