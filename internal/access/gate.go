// Package access implements the membership gate guarding every sensitive
// transition. The gate itself is stateless; denial-prompt bookkeeping lives
// with the session.
package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"tunebot/internal/transport"
	logx "tunebot/pkg/logx"
)

type Decision int

const (
	Denied Decision = iota
	Allowed
)

// Policy decides the outcome when the membership probe itself fails.
// An unreachable directory must not silently lock out or silently admit
// every user, so the policy is mandatory configuration.
type Policy int

const (
	FailClosed Policy = iota
	FailOpen
)

func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return FailOpen, true
	case "closed":
		return FailClosed, true
	default:
		return FailClosed, false
	}
}

type Config struct {
	// Channel is the community resource whose membership is required,
	// "@username" or numeric chat id.
	Channel string
	Policy  Policy
	// ProbeTimeout bounds the membership call. Default 10s.
	ProbeTimeout time.Duration
}

// Checker is the slice of the transport the gate needs.
type Checker interface {
	ChatMemberOf(ctx context.Context, chat string, userID int64) (transport.Membership, error)
}

type Gate struct {
	mu  sync.Mutex
	cfg Config

	checker Checker
	log     logx.Logger
}

func New(cfg Config, checker Checker, log logx.Logger) *Gate {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{cfg: cfg, checker: checker, log: log}
}

// Apply swaps the gate target/policy at runtime (config reload).
func (g *Gate) Apply(cfg Config) {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// Channel returns the gated community resource (for prompt rendering).
func (g *Gate) Channel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Channel
}

// Check re-validates userID's membership. Probe failure resolves per the
// configured policy, never to an error.
func (g *Gate) Check(ctx context.Context, userID int64) Decision {
	g.mu.Lock()
	cfg := g.cfg
	g.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	m, err := g.checker.ChatMemberOf(pctx, cfg.Channel, userID)
	if err != nil {
		if cfg.Policy == FailOpen {
			g.log.Warn("membership probe failed; admitting (fail-open)", logx.Int64("user_id", userID), logx.Err(err))
			return Allowed
		}
		g.log.Warn("membership probe failed; denying (fail-closed)", logx.Int64("user_id", userID), logx.Err(err))
		return Denied
	}
	if m == transport.MembershipMember {
		return Allowed
	}
	return Denied
}
