package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spindex/internal/queue"
	"github.com/desertthunder/spindex/internal/shared"
)

// DefaultShutdownMargin is how long before the invocation deadline the
// loop stops processing, reserving time for the requeue drain.
const DefaultShutdownMargin = 5 * time.Second

// Loop runs batches of queue messages under an invocation budget.
type Loop struct {
	env *Env

	// margin is subtracted from the budget; work stops that early so the
	// drain always finishes inside the invocation.
	margin time.Duration

	// minRetryDelay floors the delay of temporary-failure redelivery.
	minRetryDelay time.Duration
}

// NewLoop creates a [Loop] with the given shutdown margin and retry delay
// floor. Non-positive margin falls back to [DefaultShutdownMargin].
func NewLoop(env *Env, margin, minRetryDelay time.Duration) *Loop {
	if margin <= 0 {
		margin = DefaultShutdownMargin
	}
	if minRetryDelay < 0 {
		minRetryDelay = 0
	}
	return &Loop{env: env, margin: margin, minRetryDelay: minRetryDelay}
}

// Run processes batch in order under the given budget.
//
// Messages that fail temporarily are re-enqueued after their retry delay.
// When the budget runs out mid-batch, every message not yet fully handled,
// including the one in flight, is re-enqueued with zero delay. The drain
// runs outside the expiring context so it cannot itself be cancelled; no
// message is ever silently dropped.
func (l *Loop) Run(ctx context.Context, batch []queue.Message, budget time.Duration) {
	workBudget := budget - l.margin
	if workBudget <= 0 {
		workBudget = budget / 2
	}
	workCtx, cancel := context.WithTimeout(ctx, workBudget)
	defer cancel()

	// The drain must outlive workCtx and ctx both.
	drainCtx := context.WithoutCancel(ctx)

	for i, msg := range batch {
		if workCtx.Err() != nil {
			l.requeue(drainCtx, batch[i:])
			return
		}

		result, err := l.processSafely(workCtx, msg)
		if err != nil {
			if workCtx.Err() != nil {
				// Cancelled in flight. The message's effects are idempotent,
				// so redelivering the whole message is safe.
				l.requeue(drainCtx, batch[i:])
				return
			}
			// An internal fault is worth another delivery.
			l.env.Logger.Warn("message handling failed, retrying", "type", messageType(msg), "error", err)
			result = TemporaryFailure(0)
		}

		l.env.Metrics.ObserveMessage(messageType(msg), result.Kind.String())

		if result.Kind == ResultTemporaryFailure {
			delay := result.RetryDelay
			if delay < l.minRetryDelay {
				delay = l.minRetryDelay
			}
			if err := l.env.Dispatcher.Offer(drainCtx, msg, delay); err != nil {
				l.env.Logger.Error("failed to re-enqueue message", "type", messageType(msg), "error", err)
			}
		}
	}
}

// processSafely dispatches one message to its handler, converting panics
// into retryable errors.
func (l *Loop) processSafely(ctx context.Context, msg queue.Message) (result MessageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("message handler panicked: %v", r)
		}
	}()

	switch m := msg.(type) {
	case queue.InitializeLibraryProcessor:
		return HandleInitializeLibrary(ctx, l.env, m)
	case queue.ProcessLibraryPage:
		return HandleProcessPage(ctx, l.env, m)
	default:
		// Covers ProcessPlaylistPage and anything else the wire may carry.
		l.env.Logger.Error("unsupported message", "type", messageType(msg), "error", shared.ErrUnsupportedMessage)
		return PermanentFailure(), nil
	}
}

// requeue re-enqueues unprocessed messages with zero delay so the next
// invocation picks them up immediately.
func (l *Loop) requeue(ctx context.Context, remaining []queue.Message) {
	l.env.Metrics.ObserveBatchCancelled()

	requeued := 0
	for _, msg := range remaining {
		if err := l.env.Dispatcher.Offer(ctx, msg, 0); err != nil {
			l.env.Logger.Error("failed to requeue message", "type", messageType(msg), "error", err)
			continue
		}
		requeued++
	}

	l.env.Metrics.ObserveRequeue(requeued)
	l.env.Logger.Info("batch cancelled at deadline", "requeued", requeued, "remaining", len(remaining))
}

func messageType(msg queue.Message) string {
	switch msg.(type) {
	case queue.InitializeLibraryProcessor:
		return "InitializeLibraryProcessor"
	case queue.ProcessLibraryPage:
		return "ProcessLibraryPage"
	case queue.ProcessPlaylistPage:
		return "ProcessPlaylistPage"
	default:
		return fmt.Sprintf("%T", msg)
	}
}
