// Package bridge keeps one persistent interactive subprocess alive per
// conversation and serializes prompt/reply turns over its stdin/stdout. The
// subprocess is treated as a black box that prints a reply and then either a
// prompt marker or nothing; the bridge detects the end of a reply by that
// marker or by a window of silence, and transparently respawns the process
// when it dies between or during turns.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrClosed      = errors.New("bridge closed")
	ErrBusy        = errors.New("another turn is in progress")
	ErrTurnTimeout = errors.New("turn timed out waiting for a reply")
)

// CompletionPolicy decides when a subprocess reply is complete.
type CompletionPolicy struct {
	// SentinelPrefix is the idle-prompt marker the process prints after a
	// reply (e.g. "> "). Seeing it ends the turn; the marker itself is never
	// part of the reply.
	SentinelPrefix string
	// Quiescence ends the turn when the process has produced output and then
	// stayed silent this long. It only arms after the first chunk, so a slow
	// start is not mistaken for an empty reply.
	Quiescence time.Duration
	// MaxTurn caps the whole turn; zero means no cap beyond the caller's ctx.
	MaxTurn time.Duration
}

func (p CompletionPolicy) withDefaults() CompletionPolicy {
	if p.SentinelPrefix == "" {
		p.SentinelPrefix = "> "
	}
	if p.Quiescence <= 0 {
		p.Quiescence = 2 * time.Second
	}
	return p
}

// TurnResult is the outcome of one prompt/reply exchange.
type TurnResult struct {
	// Reply is the subprocess output produced for this prompt.
	Reply string
	// Stale holds output that arrived between turns (e.g. a late reply to an
	// interrupted turn). It is surfaced separately so callers never mistake
	// it for the answer to the current prompt.
	Stale []string
	// Respawned reports that the subprocess had to be restarted before this
	// turn could run.
	Respawned bool
}

// Bridge serializes turns against one live subprocess.
type Bridge struct {
	launcher Launcher
	policy   CompletionPolicy

	// turn is a one-slot semaphore; holding it is holding the conversation.
	turn chan struct{}

	mu     sync.Mutex
	proc   Process
	closed bool
}

func New(launcher Launcher, policy CompletionPolicy) *Bridge {
	return &Bridge{
		launcher: launcher,
		policy:   policy.withDefaults(),
		turn:     make(chan struct{}, 1),
	}
}

// SendTurn writes prompt to the subprocess and waits for the complete reply.
// Turns are strictly ordered: a second caller waits for the slot until its
// ctx expires, in which case it gets ErrBusy and the conversation is
// untouched.
func (b *Bridge) SendTurn(ctx context.Context, prompt string) (TurnResult, error) {
	if b.policy.MaxTurn > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.policy.MaxTurn)
		defer cancel()
	}

	select {
	case b.turn <- struct{}{}:
	case <-ctx.Done():
		return TurnResult{}, ErrBusy
	}
	defer func() { <-b.turn }()

	var res TurnResult

	proc, respawned, err := b.ensureProcess(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	res.Respawned = respawned
	res.Stale = drainStale(proc)

	if err := proc.WriteLine(prompt); err != nil {
		// Dead stdin: the process went away between turns. One respawn, one
		// retry; a second failure is a real fault.
		b.dropProcess(proc)
		proc, _, err = b.ensureProcess(ctx)
		if err != nil {
			return TurnResult{}, err
		}
		res.Respawned = true
		if err := proc.WriteLine(prompt); err != nil {
			b.dropProcess(proc)
			return TurnResult{}, fmt.Errorf("bridge: write to subprocess: %w", err)
		}
	}

	reply, exited, err := b.collectReply(ctx, proc)
	if exited {
		b.dropProcess(proc)
	}
	if err != nil {
		return TurnResult{}, err
	}
	if exited && reply == "" {
		// The process died without answering. Respawn and replay the prompt
		// once so a transient crash does not surface to the caller.
		if res.Respawned {
			return TurnResult{}, fmt.Errorf("bridge: subprocess exited before replying")
		}
		proc, _, err = b.ensureProcess(ctx)
		if err != nil {
			return TurnResult{}, err
		}
		res.Respawned = true
		if err := proc.WriteLine(prompt); err != nil {
			b.dropProcess(proc)
			return TurnResult{}, fmt.Errorf("bridge: write to subprocess: %w", err)
		}
		reply, exited, err = b.collectReply(ctx, proc)
		if exited {
			b.dropProcess(proc)
		}
		if err != nil {
			return TurnResult{}, err
		}
	}

	res.Reply = reply
	return res, nil
}

// Alive reports whether a subprocess is currently running.
func (b *Bridge) Alive() bool {
	b.mu.Lock()
	proc := b.proc
	b.mu.Unlock()
	if proc == nil {
		return false
	}
	select {
	case <-proc.Done():
		return false
	default:
		return true
	}
}

// Close tears down the subprocess. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	proc := b.proc
	b.proc = nil
	b.mu.Unlock()

	if proc != nil {
		return proc.Close()
	}
	return nil
}

func (b *Bridge) ensureProcess(ctx context.Context) (Process, bool, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, false, ErrClosed
	}
	proc := b.proc
	b.mu.Unlock()

	if proc != nil {
		select {
		case <-proc.Done():
			b.dropProcess(proc)
		default:
			return proc, false, nil
		}
	}

	first := proc == nil
	fresh, err := b.launcher.Launch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("bridge: launch subprocess: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = fresh.Close()
		return nil, false, ErrClosed
	}
	b.proc = fresh
	b.mu.Unlock()

	// A first launch is not a respawn; only a replacement counts.
	return fresh, !first, nil
}

func (b *Bridge) dropProcess(proc Process) {
	b.mu.Lock()
	if b.proc == proc {
		b.proc = nil
	}
	b.mu.Unlock()
	_ = proc.Close()
}

// drainStale empties output buffered since the previous turn without
// blocking.
func drainStale(proc Process) []string {
	var stale []string
	for {
		select {
		case chunk, ok := <-proc.Output():
			if !ok {
				return stale
			}
			if s := strings.TrimSpace(chunk); s != "" {
				stale = append(stale, s)
			}
		default:
			return stale
		}
	}
}

// collectReply accumulates output until the sentinel marker appears, the
// process goes quiet, or the process exits. exited reports that the process
// is gone and must be replaced before the next turn.
func (b *Bridge) collectReply(ctx context.Context, proc Process) (reply string, exited bool, err error) {
	var (
		sb      strings.Builder
		pending string
	)

	sentinel := b.policy.SentinelPrefix
	quiet := time.NewTimer(time.Hour)
	if !quiet.Stop() {
		<-quiet.C
	}
	defer quiet.Stop()

	finish := func() string {
		sb.WriteString(pending)
		return strings.TrimSpace(sb.String())
	}

	for {
		select {
		case <-ctx.Done():
			return "", false, ErrTurnTimeout

		case <-quiet.C:
			return finish(), false, nil

		case chunk, ok := <-proc.Output():
			if !ok {
				return finish(), true, nil
			}
			pending += chunk

			// Flush complete lines, watching each for the idle marker.
			for {
				nl := strings.IndexByte(pending, '\n')
				if nl < 0 {
					break
				}
				line := pending[:nl]
				pending = pending[nl+1:]
				if strings.TrimSpace(line) == strings.TrimSpace(sentinel) {
					return strings.TrimSpace(sb.String()), false, nil
				}
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
			// An unterminated trailing marker is how interactive CLIs print
			// their prompt.
			if t := strings.TrimSpace(pending); t != "" && t == strings.TrimSpace(sentinel) {
				return strings.TrimSpace(sb.String()), false, nil
			}

			// Arm (or re-arm) the silence window now that output exists.
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(b.policy.Quiescence)

		case <-proc.Done():
			// Let any already-buffered output drain through the channel
			// before declaring the reply over.
			select {
			case chunk, ok := <-proc.Output():
				if ok {
					pending += chunk
					continue
				}
			default:
			}
			return finish(), true, nil
		}
	}
}
