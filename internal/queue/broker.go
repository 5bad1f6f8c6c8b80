package queue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/spindex/internal/shared"
)

const workTopic = "spindex.work"

// BatchFunc consumes one batch of messages. The broker waits for it to
// return before gathering the next batch.
type BatchFunc func(ctx context.Context, batch []Message)

// Broker is an in-process message queue backed by a watermill go-channel
// Pub/Sub. It accepts messages over HTTP or through its local dispatcher,
// honors per-message visibility delays, and hands batches to a consumer.
type Broker struct {
	pubsub    *gochannel.GoChannel
	logger    *log.Logger
	batchSize int

	// linger bounds how long a partially filled batch waits for more
	// messages before being dispatched.
	linger time.Duration

	// The subscription is established at construction, before any offer
	// can be accepted, so consumption order matches offer order.
	messages <-chan *message.Message
	subErr   error

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewBroker creates a broker dispatching batches of at most batchSize
// messages.
func NewBroker(batchSize int, logger *log.Logger) *Broker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	b := &Broker{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermill.NewStdLogger(false, false)),
		logger:    logger,
		batchSize: batchSize,
		linger:    100 * time.Millisecond,
		timers:    make(map[*time.Timer]struct{}),
	}
	b.messages, b.subErr = b.pubsub.Subscribe(context.Background(), workTopic)
	return b
}

// Dispatcher returns the broker's local producer handle.
func (b *Broker) Dispatcher() *BrokerDispatcher {
	return &BrokerDispatcher{broker: b}
}

// Handler returns the HTTP intake surface. POST /messages with a tagged
// JSON body enqueues a message; an optional delay_ms query parameter
// defers its visibility.
func (b *Broker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		msg, err := UnmarshalMessage(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var delay time.Duration
		if raw := r.URL.Query().Get("delay_ms"); raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || ms < 0 {
				http.Error(w, "invalid delay_ms", http.StatusBadRequest)
				return
			}
			delay = time.Duration(ms) * time.Millisecond
		}

		if err := b.offer(r.Context(), msg, delay); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

// offer publishes the message, scheduling delayed messages on a timer.
func (b *Broker) offer(ctx context.Context, msg Message, delay time.Duration) error {
	payload, err := MarshalMessage(msg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return shared.ErrDispatcherClosed
	}

	if delay <= 0 {
		b.mu.Unlock()
		return b.publish(payload)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		if err := b.publish(payload); err != nil {
			b.logger.Error("failed to publish delayed message", "error", err)
		}
	})
	b.timers[timer] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *Broker) publish(payload []byte) error {
	wm := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(workTopic, wm); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Run consumes the work topic and feeds batches to handle until ctx is
// cancelled. Batches are gathered greedily: the first message opens a
// batch, further messages join until the batch is full or the linger
// window lapses.
func (b *Broker) Run(ctx context.Context, handle BatchFunc) error {
	if b.subErr != nil {
		return fmt.Errorf("failed to subscribe: %w", b.subErr)
	}

	for {
		batch, ok := b.gather(ctx, b.messages)
		if len(batch) > 0 {
			b.logger.Debug("dispatching batch", "size", len(batch))
			handle(ctx, batch)
		}
		if !ok {
			return ctx.Err()
		}
	}
}

// gather collects up to batchSize messages. The second return value is
// false once the subscription is drained or ctx is cancelled.
func (b *Broker) gather(ctx context.Context, messages <-chan *message.Message) ([]Message, bool) {
	var batch []Message

	// Block for the first message of the batch.
	select {
	case <-ctx.Done():
		return batch, false
	case wm, open := <-messages:
		if !open {
			return batch, false
		}
		if msg := b.decode(wm); msg != nil {
			batch = append(batch, msg)
		}
	}

	lingerTimer := time.NewTimer(b.linger)
	defer lingerTimer.Stop()

	for len(batch) < b.batchSize {
		select {
		case <-ctx.Done():
			return batch, false
		case <-lingerTimer.C:
			return batch, true
		case wm, open := <-messages:
			if !open {
				return batch, false
			}
			if msg := b.decode(wm); msg != nil {
				batch = append(batch, msg)
			}
		}
	}
	return batch, true
}

// decode parses and acks a watermill message. Undecodable payloads are
// acked and dropped; redelivering them cannot succeed.
func (b *Broker) decode(wm *message.Message) Message {
	defer wm.Ack()
	msg, err := UnmarshalMessage(wm.Payload)
	if err != nil {
		b.logger.Error("dropping undecodable message", "uuid", wm.UUID, "error", err)
		return nil
	}
	return msg
}

// Close stops the broker. Pending delayed messages are discarded.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}

// BrokerDispatcher is the in-process producer handle of a [Broker]. It
// implements [Dispatcher] without the HTTP round trip.
type BrokerDispatcher struct {
	broker *Broker
}

// Offer enqueues the message on the owning broker.
func (d *BrokerDispatcher) Offer(ctx context.Context, msg Message, delay time.Duration) error {
	return d.broker.offer(ctx, msg, delay)
}

// Close is a no-op; the broker owns the underlying Pub/Sub.
func (d *BrokerDispatcher) Close() error { return nil }
