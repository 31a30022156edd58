// Package broker coordinates short-lived voice-input requests between the
// assistant tool-call path that creates them and the recording surfaces
// (browsers) that claim and fulfil them. All state is in-memory and
// deliberately ephemeral; a periodic reap sweep bounds growth.
package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type request struct {
	mu sync.Mutex

	id       string
	language string

	state      State
	transcript string
	errDetail  string

	createdAt       time.Time
	overallDeadline time.Time
	claimDeadline   time.Time

	// reverted marks that the claim already lapsed once; a second lapse
	// times the request out instead of handing out another retry.
	reverted  bool
	retrieved bool
	order     uint64
}

// Broker owns the voice request table. The table mutex only guards map
// membership and subscriber bookkeeping; every state transition serializes on
// the per-request mutex so unrelated requests never contend.
type Broker struct {
	opts Options

	mu       sync.RWMutex
	requests map[string]*request
	nextOrd  uint64

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(opts Options) *Broker {
	return &Broker{
		opts:     opts.withDefaults(),
		requests: make(map[string]*request),
		subs:     make(map[int]chan Event),
	}
}

// Create inserts a new pending request and returns its id. It always
// succeeds; overallTimeout <= 0 falls back to the configured default.
func (b *Broker) Create(language string, overallTimeout time.Duration) string {
	if overallTimeout <= 0 {
		overallTimeout = b.opts.DefaultOverallTimeout
	}
	now := time.Now().UTC()
	r := &request{
		id:              uuid.NewString(),
		language:        language,
		state:           StatePending,
		createdAt:       now,
		overallDeadline: now.Add(overallTimeout),
	}

	b.mu.Lock()
	b.nextOrd++
	r.order = b.nextOrd
	b.requests[r.id] = r
	b.mu.Unlock()

	b.notify(Event{Type: EventCreated, RequestID: r.id, Language: language, State: StatePending})
	return r.id
}

// ListPending snapshots claimable requests in insertion order. Pending
// requests whose overall deadline has elapsed are timed out as a side effect
// of being observed and excluded from the result.
func (b *Broker) ListPending() []PendingRequest {
	now := time.Now().UTC()

	b.mu.RLock()
	all := make([]*request, 0, len(b.requests))
	for _, r := range b.requests {
		all = append(all, r)
	}
	b.mu.RUnlock()

	type ordered struct {
		ord  uint64
		item PendingRequest
	}
	var pending []ordered
	for _, r := range all {
		r.mu.Lock()
		expired := b.expireLocked(r, now)
		if !expired && r.state == StatePending {
			pending = append(pending, ordered{ord: r.order, item: PendingRequest{RequestID: r.id, Language: r.language}})
		}
		r.mu.Unlock()
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].ord < pending[j].ord })
	out := make([]PendingRequest, 0, len(pending))
	for _, p := range pending {
		out = append(out, p.item)
	}
	return out
}

// Claim is the single-winner transition from pending to claimed. The expiry
// check and the state check happen under the same per-request lock, so a
// request cannot be claimed in the same instant it expires.
func (b *Broker) Claim(requestID string) error {
	r := b.lookup(requestID)
	if r == nil {
		return ErrNotFound
	}

	now := time.Now().UTC()
	r.mu.Lock()
	if b.expireLocked(r, now) {
		r.mu.Unlock()
		return ErrExpired
	}
	switch r.state {
	case StatePending:
		r.state = StateClaimed
		r.claimDeadline = now.Add(b.opts.ClaimTTL)
	case StateClaimed, StateSubmitted:
		r.mu.Unlock()
		return ErrAlreadyClaimed
	case StateTimedOut:
		r.mu.Unlock()
		return ErrExpired
	default:
		r.mu.Unlock()
		return ErrWrongState
	}
	lang := r.language
	r.mu.Unlock()

	b.notify(Event{Type: EventClaimed, RequestID: requestID, Language: lang, State: StateClaimed})
	return nil
}

// BeginSubmission moves a claimed request into recording_submitted and
// returns the language the claimant should transcribe with. Only the actor
// that holds the claim reaches this transition; a claimant that raced past
// its claim deadline finds the request reverted or timed out and is refused.
func (b *Broker) BeginSubmission(requestID string) (string, error) {
	r := b.lookup(requestID)
	if r == nil {
		return "", ErrNotFound
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.expireLocked(r, now) {
		return "", ErrExpired
	}
	if r.state != StateClaimed {
		return "", ErrWrongState
	}
	r.state = StateSubmitted
	return r.language, nil
}

// SubmitResult finishes a claimed or submitted request with a transcript or
// an error detail. Any other state is rejected without side effects.
func (b *Broker) SubmitResult(requestID, transcript, errDetail string) error {
	r := b.lookup(requestID)
	if r == nil {
		return ErrNotFound
	}

	r.mu.Lock()
	if r.state != StateClaimed && r.state != StateSubmitted {
		r.mu.Unlock()
		return ErrWrongState
	}
	if errDetail != "" {
		r.state = StateFailed
		r.errDetail = errDetail
	} else {
		r.state = StateCompleted
		r.transcript = transcript
	}
	st := r.state
	r.mu.Unlock()

	b.notify(Event{Type: EventResolved, RequestID: requestID, State: st})
	return nil
}

// GetResult reads the current state without blocking. Observing a terminal
// state marks the request retrieved so the reaper can collect it.
func (b *Broker) GetResult(requestID string) (Result, error) {
	r := b.lookup(requestID)
	if r == nil {
		return Result{}, ErrNotFound
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	b.expireLocked(r, now)
	if r.state.Terminal() {
		r.retrieved = true
	}
	return Result{
		RequestID:  r.id,
		State:      r.state,
		Transcript: r.transcript,
		ErrDetail:  r.errDetail,
	}, nil
}

// Reap sweeps the table once: lapsed claims revert to pending (one retry) or
// time out, expired pending requests time out, and retrieved or stale
// terminal results are removed.
func (b *Broker) Reap() {
	now := time.Now().UTC()

	b.mu.RLock()
	all := make([]*request, 0, len(b.requests))
	for _, r := range b.requests {
		all = append(all, r)
	}
	b.mu.RUnlock()

	var remove []string
	for _, r := range all {
		r.mu.Lock()
		b.expireLocked(r, now)
		if r.state.Terminal() {
			stale := now.Sub(latestOf(r.overallDeadline, r.createdAt)) > b.opts.Retention
			if r.retrieved || stale {
				remove = append(remove, r.id)
			}
		}
		r.mu.Unlock()
	}

	if len(remove) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range remove {
		delete(b.requests, id)
	}
	b.mu.Unlock()
}

// StartReaper runs Reap on a ticker until ctx is cancelled.
func (b *Broker) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Reap()
			}
		}
	}()
}

// Len reports the table size, for capacity metrics.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.requests)
}

// Subscribe registers a watcher for broker events. The returned cancel
// function must be called to release the subscription. Events are dropped
// rather than blocking a slow subscriber.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	b.subMu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = ch
	b.subMu.Unlock()

	cancel := func() {
		b.subMu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.subMu.Unlock()
	}
	return ch, cancel
}

func (b *Broker) notify(evt Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broker) lookup(id string) *request {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.requests[id]
}

// expireLocked applies deadline-driven transitions to r, which must be held
// locked by the caller. It reports whether r ended up timed out.
func (b *Broker) expireLocked(r *request, now time.Time) bool {
	switch r.state {
	case StatePending:
		if now.After(r.overallDeadline) {
			r.state = StateTimedOut
		}
	case StateClaimed:
		if now.After(r.overallDeadline) {
			r.state = StateTimedOut
			break
		}
		if now.After(r.claimDeadline) {
			if r.reverted {
				r.state = StateTimedOut
				break
			}
			// First lapse: give the request back to the pending pool so
			// another surface can pick it up.
			r.reverted = true
			r.state = StatePending
			r.claimDeadline = time.Time{}
			b.notify(Event{Type: EventReverted, RequestID: r.id, Language: r.language, State: StatePending})
		}
	case StateSubmitted:
		// A submission in flight is protected from the overall deadline,
		// but a submitter that vanished mid-transcription must not pin the
		// entry forever.
		if now.After(r.overallDeadline.Add(b.opts.ClaimTTL)) {
			r.state = StateTimedOut
		}
	}
	return r.state == StateTimedOut
}

func latestOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
