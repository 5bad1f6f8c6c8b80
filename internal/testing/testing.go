// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/shared"
)

// Offer records one call to [RecordingDispatcher.Offer].
type Offer struct {
	Message queue.Message
	Delay   time.Duration
}

// RecordingDispatcher is a [queue.Dispatcher] test double that records
// every offered message. Safe for concurrent use.
type RecordingDispatcher struct {
	mu     sync.Mutex
	offers []Offer
	err    error
}

// NewRecordingDispatcher creates an empty recorder.
func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

// FailWith makes every subsequent Offer return err.
func (d *RecordingDispatcher) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *RecordingDispatcher) Offer(_ context.Context, msg queue.Message, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.offers = append(d.offers, Offer{Message: msg, Delay: delay})
	return nil
}

func (d *RecordingDispatcher) Close() error { return nil }

// Offers returns a copy of the recorded offers in order.
func (d *RecordingDispatcher) Offers() []Offer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Offer, len(d.offers))
	copy(out, d.offers)
	return out
}

// RoundTripFunc adapts a function to [http.RoundTripper].
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// NewTestDB opens an in-memory database with the schema applied. The
// single connection keeps every statement on the same in-memory store.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
