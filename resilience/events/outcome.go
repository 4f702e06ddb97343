package events

// Outcome is the decision taken for one inbound message. The dispatch path
// computes an Outcome without touching the transport, and a thin adapter
// translates it into ack/nack calls, so the decision table stays testable
// without a live broker.
type Outcome int

const (
	// OutcomeProcessed means the handler completed; acknowledge.
	OutcomeProcessed Outcome = iota

	// OutcomeDiscarded means the message is malformed or unroutable;
	// acknowledge so it is never redelivered. Retrying cannot fix a parse
	// failure, and requeueing an unroutable type would loop forever.
	OutcomeDiscarded

	// OutcomeRetryable means the handler failed, likely transiently;
	// negatively acknowledge with requeue so a future delivery retries it.
	OutcomeRetryable

	// OutcomeFatal means the dispatch path itself faulted; negatively
	// acknowledge without requeue to avoid a poison-message loop.
	OutcomeFatal
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
