// Package webhook posts task events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bnema/drawq/internal/adapters/notify"
	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

const defaultTimeout = 10 * time.Second

type Notifier struct {
	url    string
	client *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

func New(url string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Notifier{url: url, client: client}
}

func (n *Notifier) Notify(ctx context.Context, task domain.Task) error {
	body, err := json.Marshal(notify.NewEvent(task))
	if err != nil {
		return fmt.Errorf("encode event for task %s: %w", task.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook for task %s: %w", task.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post webhook for task %s: unexpected status %d", task.ID, resp.StatusCode)
	}
	return nil
}
