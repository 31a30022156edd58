package broker

import (
	"errors"
	"time"
)

// State is the lifecycle position of a voice request.
type State string

const (
	StatePending   State = "pending"
	StateClaimed   State = "claimed"
	StateSubmitted State = "recording_submitted"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound       = errors.New("voice request not found")
	ErrAlreadyClaimed = errors.New("voice request already claimed")
	ErrExpired        = errors.New("voice request expired")
	ErrWrongState     = errors.New("voice request is not in a state accepting this transition")
)

// PendingRequest is the claimable view exposed to recording surfaces.
type PendingRequest struct {
	RequestID string `json:"request_id"`
	Language  string `json:"language"`
}

// Result is the poller's view of a request.
type Result struct {
	RequestID  string `json:"request_id"`
	State      State  `json:"state"`
	Transcript string `json:"transcript,omitempty"`
	ErrDetail  string `json:"error,omitempty"`
}

// EventType labels broker notifications pushed to subscribed surfaces.
type EventType string

const (
	EventCreated  EventType = "created"
	EventClaimed  EventType = "claimed"
	EventReverted EventType = "reverted"
	EventResolved EventType = "resolved"
)

// Event is a broker state-change notification.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	Language  string    `json:"language,omitempty"`
	State     State     `json:"state,omitempty"`
}

// Options tune broker deadlines and garbage collection.
type Options struct {
	// ClaimTTL bounds how long a claimant may hold a request before it
	// reverts to pending (once) or times out.
	ClaimTTL time.Duration
	// Retention bounds how long a terminal, unretrieved result stays
	// readable before the reaper collects it.
	Retention time.Duration
	// DefaultOverallTimeout applies when a creator passes no timeout.
	DefaultOverallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 30 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 5 * time.Minute
	}
	if o.DefaultOverallTimeout <= 0 {
		o.DefaultOverallTimeout = 60 * time.Second
	}
	return o
}
