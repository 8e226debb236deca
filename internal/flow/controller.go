package flow

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/org"
)

var (
	ErrClosed           = errors.New("flow controller closed")
	ErrMutationInFlight = errors.New("another onboarding action is in progress")
)

const defaultResolveTimeout = 10 * time.Second

// StatusResolver is satisfied by *org.Resolver.
type StatusResolver interface {
	Resolve(ctx context.Context, identity auth.Identity) (org.Status, error)
}

type Options struct {
	// ResolveTimeout bounds every backend resolution so a refresh always
	// settles.
	ResolveTimeout time.Duration
	Exemptions     Exemptions
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	// OnNavigate is called outside the controller lock each time a redirect
	// is issued.
	OnNavigate func(uid, target string)
}

func (o Options) withDefaults() Options {
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = defaultResolveTimeout
	}
	if o.Exemptions == nil {
		o.Exemptions = DefaultExemptions
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Snapshot is a consistent read of a controller.
type Snapshot struct {
	Step       Step
	Status     *org.Status
	Checking   bool
	Err        error
	Episode    uint64
	Redirected bool
	Route      string
	Navigation string
}

// Controller owns the onboarding state of one identity.
//
// Every backend call carries a sequence number allocated at dispatch. A
// completion is applied only when nothing newer has been applied, so the
// final state always reflects the most recently dispatched call that
// finished. Calls dispatched while another is in flight join it unless the
// refresh is forced.
type Controller struct {
	resolver StatusResolver
	opts     Options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu       sync.Mutex
	identity auth.Identity
	issued   uint64
	applied  uint64
	inflight uint64
	status   *org.Status
	err      error

	route             string
	episode           uint64
	redirectedEpisode uint64
	navigation        string

	mutating bool
	closed   bool
}

func NewController(identity auth.Identity, resolver StatusResolver, opts Options) *Controller {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		resolver: resolver,
		opts:     opts,
		logger:   opts.Logger.Named("flow").With(zap.String("uid", identity.UID)),
		ctx:      ctx,
		cancel:   cancel,
		identity: identity,
		episode:  1,
	}
	opts.Metrics.ControllerOpened()
	return c
}

func (c *Controller) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.UID
}

// SetIdentity replaces the identity used by later dispatches, for example
// after a token refresh changed the display name.
func (c *Controller) SetIdentity(identity auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// Dispatch starts a resolution, or joins the one in flight. The channel
// yields the snapshot taken right after that resolution settled.
func (c *Controller) Dispatch() (<-chan singleflight.Result, error) {
	return c.dispatch(false)
}

// ForceDispatch is the non-blocking form of ForceRefresh.
func (c *Controller) ForceDispatch() (<-chan singleflight.Result, error) {
	return c.dispatch(true)
}

func (c *Controller) dispatch(force bool) (<-chan singleflight.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	joined := !force && c.inflight != 0
	if !joined {
		c.issued++
		c.inflight = c.issued
	}
	seq := c.inflight
	identity := c.identity
	c.opts.Metrics.RefreshDispatched(joined)

	// The key stays registered until run returns, and run needs c.mu to
	// settle, so a caller that sees inflight == seq here always attaches.
	return c.group.DoChan(strconv.FormatUint(seq, 10), c.run(seq, identity)), nil
}

// Refresh dispatches (or joins) a resolution and waits for it. Cancelling
// ctx stops waiting without cancelling the shared call.
func (c *Controller) Refresh(ctx context.Context) (Snapshot, error) {
	ch, err := c.dispatch(false)
	if err != nil {
		return Snapshot{}, err
	}
	return c.wait(ctx, ch)
}

// ForceRefresh always starts a new resolution, superseding any call in
// flight. Used after mutations so a read issued before the write cannot
// answer for it.
func (c *Controller) ForceRefresh(ctx context.Context) (Snapshot, error) {
	ch, err := c.dispatch(true)
	if err != nil {
		return Snapshot{}, err
	}
	return c.wait(ctx, ch)
}

func (c *Controller) wait(ctx context.Context, ch <-chan singleflight.Result) (Snapshot, error) {
	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

func (c *Controller) run(seq uint64, identity auth.Identity) func() (any, error) {
	return func() (any, error) {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.ResolveTimeout)
		defer cancel()

		status, err := c.resolver.Resolve(ctx, identity)
		snap, nav := c.settle(seq, status, err)
		if nav != "" && c.opts.OnNavigate != nil {
			c.opts.OnNavigate(identity.UID, nav)
		}
		return snap, nil
	}
}

// settle applies a finished resolution and returns the resulting snapshot
// plus the navigation target issued by it, if any.
func (c *Controller) settle(seq uint64, status org.Status, err error) (Snapshot, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.snapshotLocked(), ""
	}
	if c.inflight == seq {
		c.inflight = 0
	}
	if seq <= c.applied {
		c.opts.Metrics.StaleResultDiscarded()
		c.logger.Debug("discarding stale status", zap.Uint64("seq", seq), zap.Uint64("applied", c.applied))
		return c.snapshotLocked(), ""
	}

	c.applied = seq
	if err != nil {
		c.err = err
		return c.snapshotLocked(), ""
	}
	st := status
	c.status = &st
	c.err = nil

	nav := c.redirectLocked()
	return c.snapshotLocked(), nav
}

func (c *Controller) redirectLocked() string {
	if c.err != nil || c.inflight != 0 {
		return ""
	}
	step := DeriveStep(false, c.status)
	target, ok := Target(step)
	if !ok {
		return ""
	}
	if c.opts.Exemptions.Match(c.route) {
		return ""
	}
	if c.redirectedEpisode == c.episode {
		return ""
	}

	c.redirectedEpisode = c.episode
	c.navigation = target
	c.opts.Metrics.RedirectIssued(string(step))
	c.logger.Info("onboarding redirect issued",
		zap.String("step", string(step)), zap.String("target", target),
		zap.String("from", c.route), zap.Uint64("episode", c.episode))
	return target
}

// Observe records the client's current route. Reaching the pending
// navigation target fulfils it.
func (c *Controller) Observe(route string) {
	path := RoutePath(route)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.route = path
	if c.navigation != "" && path != "" && Exemptions([]string{c.navigation}).Match(path) {
		c.navigation = ""
	}
}

// TakeNavigation returns the pending navigation target once.
func (c *Controller) TakeNavigation() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nav := c.navigation
	c.navigation = ""
	return nav, nav != ""
}

// CompleteFlow ends the current gating episode; the next one may redirect
// once again.
func (c *Controller) CompleteFlow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.episode++
	c.navigation = ""
	c.logger.Debug("gating episode completed", zap.Uint64("episode", c.episode))
}

// ResetRedirection re-arms redirection within the current episode.
func (c *Controller) ResetRedirection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirectedEpisode = 0
}

// BeginMutation takes the per-identity mutation lock. The returned release
// is idempotent.
func (c *Controller) BeginMutation() (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.mutating {
		return nil, ErrMutationInFlight
	}
	c.mutating = true

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.mutating = false
			c.mu.Unlock()
		})
	}, nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	checking := c.inflight != 0
	return Snapshot{
		Step:       DeriveStep(checking, c.status),
		Status:     c.status,
		Checking:   checking,
		Err:        c.err,
		Episode:    c.episode,
		Redirected: c.redirectedEpisode == c.episode,
		Route:      c.route,
		Navigation: c.navigation,
	}
}

// Close tears the controller down. In-flight resolutions are cancelled and
// their results dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.navigation = ""
	c.mu.Unlock()

	c.cancel()
	c.opts.Metrics.ControllerClosed()
}

func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
