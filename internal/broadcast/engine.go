// Package broadcast implements the admin-only fan-out engine.
//
// The send loop is deliberately sequential and rate-limited: broadcast
// latency grows with the recipient count, but the transport's outbound rate
// ceiling is never exceeded and one recipient's failure is isolated from all
// others.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tunebot/internal/directory"
	"tunebot/internal/transport"
	logx "tunebot/pkg/logx"
)

type Phase int

const (
	Idle Phase = iota
	AwaitingDraft
	AwaitingConfirmation
	Sending
)

// Summary is the terminal per-pass accounting reported to the admin.
type Summary struct {
	Sent   int
	Failed int
}

// ErrNotPending means there was no broadcast awaiting confirmation for the
// caller; silently ignorable.
var ErrNotPending = errors.New("no broadcast awaiting confirmation")

type Config struct {
	AdminID int64
	// SendDelay is the fixed inter-send delay. Default 200ms.
	SendDelay time.Duration
}

// Sender is the slice of the transport the engine needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Engine struct {
	mu    sync.Mutex
	cfg   Config
	phase Phase
	draft string

	dir    directory.Directory
	sender Sender
	log    logx.Logger
}

func New(cfg Config, dir directory.Directory, sender Sender, log logx.Logger) *Engine {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 200 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, dir: dir, sender: sender, log: log}
}

// Apply swaps the inter-send delay at runtime (config reload). The admin
// identity is fixed for the process lifetime.
func (e *Engine) Apply(sendDelay time.Duration) {
	if sendDelay <= 0 {
		return
	}
	e.mu.Lock()
	e.cfg.SendDelay = sendDelay
	e.mu.Unlock()
}

func (e *Engine) isAdmin(userID int64) bool { return userID == e.cfg.AdminID }

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Begin moves Idle -> AwaitingDraft. Non-admin callers are no-ops.
func (e *Engine) Begin(userID int64) bool {
	if !e.isAdmin(userID) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != Idle {
		return false
	}
	e.phase = AwaitingDraft
	return true
}

// WantsDraft reports whether the next plain-text message from userID should
// be captured as the broadcast draft. Only ever true for the admin, so other
// users' resolution flows are never intercepted.
func (e *Engine) WantsDraft(userID int64) bool {
	if !e.isAdmin(userID) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase == AwaitingDraft
}

// CaptureDraft moves AwaitingDraft -> AwaitingConfirmation with the given
// text as the draft.
func (e *Engine) CaptureDraft(userID int64, text string) bool {
	if !e.isAdmin(userID) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != AwaitingDraft {
		return false
	}
	e.draft = text
	e.phase = AwaitingConfirmation
	return true
}

func (e *Engine) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Cancel clears draft state without sending.
func (e *Engine) Cancel(userID int64) bool {
	if !e.isAdmin(userID) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != AwaitingDraft && e.phase != AwaitingConfirmation {
		return false
	}
	e.draft = ""
	e.phase = Idle
	return true
}

// Confirm moves AwaitingConfirmation -> Sending and runs the fan-out pass to
// completion. It blocks for the duration of the pass (callers run it off the
// admin's session worker) and always returns the engine to Idle.
// ErrNotPending means the caller had nothing to confirm; any other error
// means the pass could not run at all (the summary is not an empty-set pass).
func (e *Engine) Confirm(ctx context.Context, userID int64) (Summary, error) {
	if !e.isAdmin(userID) {
		return Summary{}, ErrNotPending
	}
	e.mu.Lock()
	if e.phase != AwaitingConfirmation {
		e.mu.Unlock()
		return Summary{}, ErrNotPending
	}
	text := e.draft
	delay := e.cfg.SendDelay
	e.draft = ""
	e.phase = Sending
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.phase = Idle
		e.mu.Unlock()
	}()

	return e.fanOut(ctx, text, delay)
}

// fanOut enumerates the non-blocked recipient set as a snapshot and delivers
// sequentially, pacing each send with the inter-send delay.
func (e *Engine) fanOut(ctx context.Context, text string, delay time.Duration) (Summary, error) {
	var sum Summary

	recipients, err := e.dir.ListActive(ctx)
	if err != nil {
		e.log.Error("recipient snapshot failed", logx.Err(err))
		return sum, fmt.Errorf("recipient snapshot: %w", err)
	}

	// Drain the initial token so every attempt, including the first, pays
	// the full interval; a pass over N recipients spans at least N*delay.
	lim := rate.NewLimiter(rate.Every(delay), 1)
	lim.Allow()

	start := time.Now()
	e.log.Info("broadcast pass started", logx.Int("recipients", len(recipients)))

	for _, id := range recipients {
		if ctx.Err() != nil {
			break
		}
		_, err := e.sender.SendText(ctx, transport.ChatTarget{ChatID: id}, text, nil)
		switch {
		case err == nil:
			sum.Sent++
		case errors.Is(err, transport.ErrRecipientUnreachable):
			// Permanent: exclude from future passes.
			sum.Failed++
			if merr := e.dir.MarkBlocked(ctx, id); merr != nil {
				e.log.Error("mark blocked failed", logx.Int64("user_id", id), logx.Err(merr))
			}
			e.log.Debug("recipient unreachable, suppressed", logx.Int64("user_id", id))
		default:
			// Transient: counted, never suppressed.
			sum.Failed++
			e.log.Warn("broadcast send failed", logx.Int64("user_id", id), logx.Err(err))
		}

		// Pace after each attempt so a pass over N recipients spans at least
		// N intervals.
		if err := lim.Wait(ctx); err != nil {
			break
		}
	}

	fields := []logx.Field{
		logx.Int("sent", sum.Sent),
		logx.Int("failed", sum.Failed),
		logx.Duration("took", time.Since(start)),
	}
	if sum.Failed > 0 {
		e.log.Warn("broadcast pass finished with failures", fields...)
	} else {
		e.log.Info("broadcast pass finished", fields...)
	}
	return sum, nil
}
