package reminder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// LogNotifier writes reminders to the log instead of mailing them.
type LogNotifier struct {
	Logger log.FieldLogger
}

func (n LogNotifier) Send(_ context.Context, req Request) error {
	logger := n.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"title":       req.Title,
		"recipient":   req.RecipientEmail,
		"board":       req.BoardTitle,
		"scheduledAt": req.ScheduledAt.UTC().Format(time.RFC3339),
	}).Info("board.reminder")
	return nil
}

// WebhookNotifier posts each reminder as JSON to URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func (n WebhookNotifier) Send(ctx context.Context, req Request) error {
	body, err := sonic.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: status %d", n.URL, resp.StatusCode)
	}
	return nil
}
