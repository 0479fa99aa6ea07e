package agent

import "errors"

var (
	// ErrNoRoute is logged when a USER frame must be forwarded but no
	// routing-table entry exists for its destination. The frame is dropped,
	// not retried or queued (spec: no retries on forwarding drops).
	ErrNoRoute = errors.New("agent: no route to destination")

	// ErrLowPower is logged when a send or receive is refused by the power
	// gate. The frame is dropped at that hop; sender/receiver state is left
	// unchanged (the debit never happens for a refused operation).
	ErrLowPower = errors.New("agent: power budget below operation threshold")

	// ErrLinkClosed is logged when a send fails because the underlying
	// child or parent link is no longer available.
	ErrLinkClosed = errors.New("agent: link closed")
)
