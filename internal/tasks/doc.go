// package tasks implements the library indexing worker.
//
// The worker consumes queue messages in batches under a fixed invocation
// budget. Each message resolves to exactly one of three outcomes: success,
// permanent failure (never retried), or temporary failure (retried after a
// delay). All durable effects are idempotent, so duplicate deliveries and
// mid-batch cancellation are safe.
package tasks
