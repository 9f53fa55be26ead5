package alloy

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the Agent call surface.
var (
	// ErrBusy is returned by Chat, StreamChat, Reset, and SetModel while an
	// asynchronous request is running. An event-driven turn does not cause
	// it; those calls wait until the event-driven turn has finished.
	ErrBusy = errors.New("agent busy")
	// ErrQueueFull is returned by SendMessage when the pending queue holds
	// MaxPending requests.
	ErrQueueFull = errors.New("queue full")
	// ErrNoPubSub is returned by SendMessage when no PubSub is configured.
	ErrNoPubSub = errors.New("no pubsub configured")
	// ErrCancelled marks a request that was cancelled before or during its run.
	ErrCancelled = errors.New("cancelled")
	// ErrStopped is returned by calls made after the agent has been stopped.
	ErrStopped = errors.New("agent stopped")
	// ErrUnknownRequest is returned by CancelRequest for an id that is
	// neither queued nor running.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrAlreadyRunning is returned by Scheduler.Trigger when the job has a
	// run in flight.
	ErrAlreadyRunning = errors.New("already running")
	// ErrUnknownAgent is returned by Team operations naming an unregistered child.
	ErrUnknownAgent = errors.New("unknown agent")
)

// ProviderError is a failure reported by a provider. Message is the wire
// error string, kind-prefixed (e.g. "HTTP 429: ...", "overloaded_error: ...")
// so the retry classifier can match on it. Providers never retry internally;
// the turn loop is the sole retry authority.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// HaltError signals an intentional policy stop from middleware, distinct
// from an error: the turn loop transitions to StatusHalted and still runs
// the session_end hook.
type HaltError struct {
	Reason string
}

func (e *HaltError) Error() string { return "halted: " + e.Reason }

// retryableMarkers are matched as substrings against provider error strings.
// The HTTP codes and vendor kinds come straight off the wire; the trailing
// entries cover transport failures as Go's net package spells them.
var retryableMarkers = []string{
	"HTTP 429",
	"HTTP 500",
	"HTTP 502",
	"HTTP 503",
	"HTTP 504",
	"rate_limit_error",
	"rate_limit_exceeded",
	"overloaded_error",
	"server_error",
	"RESOURCE_EXHAUSTED",
	"INTERNAL",
	"UNAVAILABLE",
	"connection refused",
	"connection reset",
	"use of closed network connection",
	"unexpected EOF",
	"timeout",
	"deadline exceeded",
}

// Retryable classifies a provider error as transient. It is a pure function
// of the error string: anything carrying a known transient marker is
// retryable, everything else (auth failures, invalid arguments, malformed
// model output) is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
