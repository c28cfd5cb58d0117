package signaller

import (
	"errors"
	"fmt"
)

var (
	// ErrMailboxClosed is returned when a message is enqueued on a
	// signaller that is not connected or has been stopped.
	ErrMailboxClosed = errors.New("signaller: mailbox closed")
	// ErrMailboxFull is returned when the mailbox has reached its bound.
	// Messages are never silently dropped below that bound.
	ErrMailboxFull = errors.New("signaller: mailbox full")
)

// ExchangeErrorKind classifies WHIP exchange failures.
type ExchangeErrorKind int

const (
	// ExchangeTransport covers connect and socket I/O failures.
	ExchangeTransport ExchangeErrorKind = iota
	// ExchangeRejected means the endpoint answered with a non-2xx status.
	ExchangeRejected
	// ExchangeMalformedAnswer means the response body did not parse as SDP.
	ExchangeMalformedAnswer
)

func (k ExchangeErrorKind) String() string {
	switch k {
	case ExchangeTransport:
		return "transport"
	case ExchangeRejected:
		return "rejected"
	case ExchangeMalformedAnswer:
		return "malformed-answer"
	default:
		return "unknown"
	}
}

// ExchangeError is a failed WHIP offer/answer exchange. Status is only set
// for ExchangeRejected.
type ExchangeError struct {
	Kind   ExchangeErrorKind
	Status int
	Err    error
}

func (e *ExchangeError) Error() string {
	switch e.Kind {
	case ExchangeRejected:
		return fmt.Sprintf("whip exchange rejected with status %d", e.Status)
	case ExchangeMalformedAnswer:
		return fmt.Sprintf("whip answer is not valid sdp: %v", e.Err)
	default:
		return fmt.Sprintf("whip exchange transport failure: %v", e.Err)
	}
}

func (e *ExchangeError) Unwrap() error { return e.Err }
