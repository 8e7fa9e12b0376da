package reminder

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	sent []Request
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, req Request) error {
	n.sent = append(n.sent, req)
	return n.err
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	opts     []*azqueue.EnqueueMessageOptions
	err      error
}

func (f *fakeQueue) EnqueueMessage(_ context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	f.opts = append(f.opts, o)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestDispatchSendsDueReminder(t *testing.T) {
	n := &recordingNotifier{}
	r := &MemoryRecorder{}
	d := NewDispatcher(n, r, WithClock(func() time.Time { return now }))

	req := Request{Title: "ship", RecipientEmail: "ana@example.com", ScheduledAt: now.Add(-time.Minute)}
	if err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(n.sent) != 1 || n.sent[0].Title != "ship" {
		t.Fatalf("expected reminder to be sent, got %+v", n.sent)
	}
	if len(r.Recorded()) != 0 {
		t.Fatalf("due reminder must not be recorded")
	}
}

func TestDispatchRecordsFutureReminder(t *testing.T) {
	n := &recordingNotifier{}
	r := &MemoryRecorder{}
	d := NewDispatcher(n, r, WithClock(func() time.Time { return now }))

	req := Request{Title: "later", RecipientEmail: "ana@example.com", ScheduledAt: now.Add(time.Hour)}
	if err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(n.sent) != 0 {
		t.Fatalf("future reminder was sent: %+v", n.sent)
	}
	if got := r.Recorded(); len(got) != 1 || got[0].Title != "later" {
		t.Fatalf("expected recorded reminder, got %+v", got)
	}
	if due := r.Due(now); len(due) != 0 {
		t.Fatalf("nothing should be due yet, got %+v", due)
	}
	if due := r.Due(now.Add(time.Hour)); len(due) != 1 {
		t.Fatalf("expected reminder to be due, got %+v", due)
	}
	if len(r.Recorded()) != 0 {
		t.Fatal("due reminders must be removed")
	}
}

func TestDispatchRejectsIncompleteRequests(t *testing.T) {
	d := NewDispatcher(&recordingNotifier{}, &MemoryRecorder{})
	cases := map[string]Request{
		"no recipient": {Title: "x", ScheduledAt: now},
		"no schedule":  {Title: "x", RecipientEmail: "ana@example.com"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if err := d.Dispatch(context.Background(), req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDispatchWrapsNotifierError(t *testing.T) {
	boom := errors.New("smtp down")
	d := NewDispatcher(&recordingNotifier{err: boom}, nil, WithClock(func() time.Time { return now }))
	err := d.Dispatch(context.Background(), Request{Title: "x", RecipientEmail: "a@b.c", ScheduledAt: now})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped notifier error, got %v", err)
	}
}

func TestQueueRecorderVisibilityTimeout(t *testing.T) {
	cases := map[string]struct {
		at   time.Time
		want int32
	}{
		"in an hour":   {at: now.Add(time.Hour), want: 3600},
		"past":         {at: now.Add(-time.Hour), want: 0},
		"next month":   {at: now.Add(30 * 24 * time.Hour), want: int32(MaxVisibilityDelay / time.Second)},
		"exactly week": {at: now.Add(MaxVisibilityDelay), want: int32(MaxVisibilityDelay / time.Second)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fq := &fakeQueue{}
			r := newQueueRecorder(fq, func() time.Time { return now })
			if err := r.Record(context.Background(), Request{Title: "x", RecipientEmail: "a@b.c", ScheduledAt: tc.at}); err != nil {
				t.Fatalf("record: %v", err)
			}
			if len(fq.opts) != 1 {
				t.Fatalf("expected one message, got %d", len(fq.opts))
			}
			if got := *fq.opts[0].VisibilityTimeout; got != tc.want {
				t.Fatalf("visibility timeout %d, want %d", got, tc.want)
			}
			if ttl := *fq.opts[0].TimeToLive; ttl != -1 {
				t.Fatalf("expected non-expiring message, got ttl %d", ttl)
			}
		})
	}
}

func TestQueueRecorderMessageBody(t *testing.T) {
	fq := &fakeQueue{}
	r := newQueueRecorder(fq, func() time.Time { return now })
	req := Request{Title: "ship", RecipientEmail: "a@b.c", ScheduledAt: now.Add(time.Hour), BoardTitle: "To Do"}
	if err := r.Record(context.Background(), req); err != nil {
		t.Fatalf("record: %v", err)
	}
	var got Request
	if err := sonic.Unmarshal([]byte(fq.messages[0]), &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.ID == "" {
		t.Fatal("expected generated message id")
	}
	if got.Title != "ship" || got.BoardTitle != "To Do" || !got.ScheduledAt.Equal(req.ScheduledAt) {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestQueueRecorderError(t *testing.T) {
	fq := &fakeQueue{err: errors.New("queue unavailable")}
	r := newQueueRecorder(fq, time.Now)
	if err := r.Record(context.Background(), Request{ScheduledAt: time.Now().Add(time.Hour)}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := LogNotifier{Logger: logger}
	if err := n.Send(context.Background(), Request{Title: "ship", RecipientEmail: "a@b.c", ScheduledAt: now}); err != nil {
		t.Fatalf("send: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "board.reminder" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry.Data["recipient"] != "a@b.c" {
		t.Fatalf("missing recipient field: %v", entry.Data)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL}
	if err := n.Send(context.Background(), Request{Title: "ship", RecipientEmail: "a@b.c", ScheduledAt: now}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(body, `"recipientEmail":"a@b.c"`) {
		t.Fatalf("unexpected webhook body: %s", body)
	}
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := (WebhookNotifier{URL: srv.URL}).Send(context.Background(), Request{Title: "x"}); err == nil {
		t.Fatal("expected error on 500")
	}
}
