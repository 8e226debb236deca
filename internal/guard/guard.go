// Package guard decides, per navigation, whether a client sees a loading
// state, an onboarding screen or the requested content.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/flow"
	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/org"
)

type Outcome string

const (
	OutcomeLoading     Outcome = "loading"
	OutcomeNothing     Outcome = "nothing"
	OutcomePassthrough Outcome = "passthrough"
	OutcomeError       Outcome = "error"
	OutcomeFlowScreen  Outcome = "flow-screen"
	OutcomeContent     Outcome = "content"
)

type Input struct {
	Authenticated   bool
	IdentityLoading bool
	Checking        bool
	Exempt          bool
	Step            flow.Step
	Err             error
}

type Decision struct {
	Outcome Outcome
	// Step is set for flow-screen decisions.
	Step flow.Step
	// Err is set for error decisions.
	Err error
	// UserNotFound distinguishes a missing user record from a transient
	// resolution failure.
	UserNotFound bool
}

// Decide is pure; the first matching rule wins.
func Decide(in Input) Decision {
	switch {
	case in.IdentityLoading, in.Authenticated && in.Checking && !in.Exempt:
		return Decision{Outcome: OutcomeLoading}
	case !in.Authenticated && !in.Exempt:
		return Decision{Outcome: OutcomeNothing}
	case !in.Authenticated:
		return Decision{Outcome: OutcomePassthrough}
	case in.Exempt:
		return Decision{Outcome: OutcomeContent}
	case in.Err != nil:
		return Decision{Outcome: OutcomeError, Err: in.Err, UserNotFound: errors.Is(in.Err, org.ErrUserNotFound)}
	case in.Step == flow.StepLoading:
		return Decision{Outcome: OutcomeLoading}
	case in.Step.Gating():
		return Decision{Outcome: OutcomeFlowScreen, Step: in.Step}
	default:
		return Decision{Outcome: OutcomeContent}
	}
}

// Flow is the part of a flow controller the guard drives.
type Flow interface {
	Observe(route string)
	Dispatch() (<-chan singleflight.Result, error)
	Snapshot() flow.Snapshot
}

type Options struct {
	Exemptions flow.Exemptions
	// Wait bounds how long Check blocks on the initial status check.
	Wait    time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Guard dispatches the initial status check once per identity and decides
// each navigation from the controller's snapshot.
type Guard struct {
	exempt  flow.Exemptions
	wait    time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	dispatched map[string]bool
}

func New(opts Options) *Guard {
	if opts.Exemptions == nil {
		opts.Exemptions = flow.DefaultExemptions
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Guard{
		exempt:     opts.Exemptions,
		wait:       opts.Wait,
		logger:     opts.Logger.Named("guard"),
		metrics:    opts.Metrics,
		dispatched: make(map[string]bool),
	}
}

func (g *Guard) Exempt(route string) bool {
	return g.exempt.Match(route)
}

// Check decides route for identity. A nil identity is unauthenticated and
// f may then be nil.
func (g *Guard) Check(ctx context.Context, identity *auth.Identity, route string, f Flow) Decision {
	exempt := g.exempt.Match(route)
	if identity == nil || f == nil {
		d := Decide(Input{Authenticated: false, Exempt: exempt})
		g.metrics.GuardDecided(string(d.Outcome))
		return d
	}

	f.Observe(route)
	if g.latch(identity.UID) {
		ch, err := f.Dispatch()
		if err != nil {
			g.logger.Warn("initial status check not dispatched", zap.String("uid", identity.UID), zap.Error(err))
		} else {
			g.await(ctx, ch)
		}
	}

	snap := f.Snapshot()
	d := Decide(Input{
		Authenticated: true,
		Checking:      snap.Checking,
		Exempt:        exempt,
		Step:          snap.Step,
		Err:           snap.Err,
	})
	g.metrics.GuardDecided(string(d.Outcome))
	return d
}

// latch reports true the first time it is called for uid since the last
// Reset.
func (g *Guard) latch(uid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dispatched[uid] {
		return false
	}
	g.dispatched[uid] = true
	return true
}

func (g *Guard) await(ctx context.Context, ch <-chan singleflight.Result) {
	if g.wait <= 0 {
		return
	}
	timer := time.NewTimer(g.wait)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Reset clears the dispatch latch of uid so its next login checks again.
func (g *Guard) Reset(uid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.dispatched, uid)
}
