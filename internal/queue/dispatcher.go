package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/spindex/internal/shared"
)

// Dispatcher enqueues messages for later consumption. Offer with a zero
// delay makes the message visible immediately; a positive delay defers
// visibility by at least that duration.
type Dispatcher interface {
	Offer(ctx context.Context, msg Message, delay time.Duration) error
	Close() error
}

// HTTPDispatcher posts messages to a broker's intake endpoint. It is the
// producer-side counterpart of [Broker].
type HTTPDispatcher struct {
	brokerURL  string
	httpClient *http.Client
}

// NewHTTPDispatcher creates a dispatcher targeting the broker at baseURL,
// e.g. "http://localhost:8765".
func NewHTTPDispatcher(baseURL string) *HTTPDispatcher {
	return &HTTPDispatcher{
		brokerURL:  baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient overrides the underlying [http.Client], primarily for tests.
func (d *HTTPDispatcher) SetHTTPClient(client *http.Client) {
	if client != nil {
		d.httpClient = client
	}
}

// Offer posts the message to the broker's /messages endpoint. The delay is
// carried as a delay_ms query parameter.
func (d *HTTPDispatcher) Offer(ctx context.Context, msg Message, delay time.Duration) error {
	payload, err := MarshalMessage(msg)
	if err != nil {
		return err
	}

	url := d.brokerURL + "/messages"
	if delay > 0 {
		url += "?delay_ms=" + strconv.FormatInt(delay.Milliseconds(), 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("broker rejected message: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op; the dispatcher holds no connections of its own.
func (d *HTTPDispatcher) Close() error { return nil }
