package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// MaxVisibilityDelay is the longest a queue message can stay hidden.
const MaxVisibilityDelay = 7 * 24 * time.Hour

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueRecorder stores future reminders as Azure Queue messages that become
// visible when the reminder is due, so a worker only sees due reminders.
// Reminders further out than MaxVisibilityDelay surface early and are
// expected to be re-enqueued by the consumer.
type QueueRecorder struct {
	queue queueClient
	now   func() time.Time
}

// NewQueueRecorder connects to queue in the account described by connStr.
func NewQueueRecorder(connStr, queue string) (*QueueRecorder, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 10 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, err
	}
	return newQueueRecorder(qc, time.Now), nil
}

func newQueueRecorder(q queueClient, now func() time.Time) *QueueRecorder {
	return &QueueRecorder{queue: q, now: now}
}

func (r *QueueRecorder) Record(ctx context.Context, req Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	data, err := sonic.Marshal(req)
	if err != nil {
		return err
	}
	delay := req.ScheduledAt.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	if delay > MaxVisibilityDelay {
		delay = MaxVisibilityDelay
	}
	visibility := int32(delay / time.Second)
	// The visibility timeout has to stay below the message TTL, so messages
	// never expire on their own.
	ttl := int32(-1)
	_, err = r.queue.EnqueueMessage(ctx, string(data), &azqueue.EnqueueMessageOptions{
		VisibilityTimeout: &visibility,
		TimeToLive:        &ttl,
	})
	return err
}

// MemoryRecorder keeps recorded reminders in memory.
type MemoryRecorder struct {
	mu        sync.Mutex
	reminders []Request
}

func (r *MemoryRecorder) Record(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reminders = append(r.reminders, req)
	return nil
}

// Recorded returns a copy of everything recorded so far.
func (r *MemoryRecorder) Recorded() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.reminders...)
}

// Due removes and returns the reminders scheduled at or before now.
func (r *MemoryRecorder) Due(now time.Time) []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due, rest []Request
	for _, req := range r.reminders {
		if req.ScheduledAt.After(now) {
			rest = append(rest, req)
		} else {
			due = append(due, req)
		}
	}
	r.reminders = rest
	return due
}
