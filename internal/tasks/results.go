package tasks

import "time"

// ResultKind classifies the outcome of handling one message.
type ResultKind int

const (
	// ResultSuccess marks the message fully handled. It is never redelivered.
	ResultSuccess ResultKind = iota
	// ResultPermanentFailure marks the message unprocessable. It is dropped,
	// never retried.
	ResultPermanentFailure
	// ResultTemporaryFailure marks the message retryable after RetryDelay.
	ResultTemporaryFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultPermanentFailure:
		return "permanent_failure"
	case ResultTemporaryFailure:
		return "temporary_failure"
	default:
		return "unknown"
	}
}

// MessageResult is the outcome of one handled message.
type MessageResult struct {
	Kind ResultKind
	// RetryDelay is meaningful only for temporary failures.
	RetryDelay time.Duration
}

// Success marks a message fully handled.
func Success() MessageResult {
	return MessageResult{Kind: ResultSuccess}
}

// PermanentFailure marks a message that must never be retried.
func PermanentFailure() MessageResult {
	return MessageResult{Kind: ResultPermanentFailure}
}

// TemporaryFailure marks a message to retry after delay.
func TemporaryFailure(delay time.Duration) MessageResult {
	return MessageResult{Kind: ResultTemporaryFailure, RetryDelay: delay}
}
