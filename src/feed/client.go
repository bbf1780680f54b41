package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/interfaces"
	"market-gateway/src/logger"
	"market-gateway/src/models"
)

// State of the upstream connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Status names reported to IFeedStatusListener.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
	StatusAuthExpired  = "auth_expired"
)

// maxPendingOps bounds the delta queue while not connected; the resync on
// connect supersedes anything dropped.
const maxPendingOps = 4096

// -----------------------------------------------------------------------------

// CredentialVerifier checks a credential before the stream is opened.
type CredentialVerifier interface {
	VerifyProfile(ctx context.Context, cred models.MCredential) error
}

// ActiveSet exposes the router's view of upstream interest.
type ActiveSet interface {
	ActiveSymbols() []models.MSymbol
	IsActive(key string) bool
}

// Options configures a Client.
type Options struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type pendingOp struct {
	subscribe bool
	symbols   []string
}

// -----------------------------------------------------------------------------
// Client owns the single upstream streaming connection.
// -----------------------------------------------------------------------------

type Client struct {
	Logger *logger.Logger
	opts   Options

	dialer   interfaces.IDialer
	verifier CredentialVerifier
	active   ActiveSet
	handler  interfaces.ITickHandler

	listenersMu   sync.RWMutex
	listeners     []interfaces.IFeedStatusListener
	onAuthExpired []func(error)

	state atomic.Int32

	pendingMu sync.Mutex
	pending   []pendingOp
	signal    chan struct{}

	runMu     sync.Mutex
	baseCtx   context.Context
	cancelRun context.CancelFunc
	runDone   chan struct{}
	stopped   bool

	now func() time.Time
}

// -----------------------------------------------------------------------------

func NewClient(opts Options, dialer interfaces.IDialer, verifier CredentialVerifier, active ActiveSet, handler interfaces.ITickHandler, log *logger.Logger) *Client {
	c := &Client{
		Logger:   log,
		opts:     opts,
		dialer:   dialer,
		verifier: verifier,
		active:   active,
		handler:  handler,
		signal:   make(chan struct{}, 1),
		baseCtx:  context.Background(),
		now:      time.Now,
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// -----------------------------------------------------------------------------

// AddStatusListener registers l for connectivity transitions.
func (c *Client) AddStatusListener(l interfaces.IFeedStatusListener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenersMu.Unlock()
}

// OnAuthExpired registers fn to run when the upstream rejects the credential.
func (c *Client) OnAuthExpired(fn func(error)) {
	c.listenersMu.Lock()
	c.onAuthExpired = append(c.onAuthExpired, fn)
	c.listenersMu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start sets the parent context of every connection loop. Nothing connects
// until Initialize supplies a credential.
func (c *Client) Start(ctx context.Context) {
	c.runMu.Lock()
	c.baseCtx = ctx
	c.runMu.Unlock()
}

// -----------------------------------------------------------------------------

// Initialize verifies cred and (re)starts the connection loop with it. A
// running loop is stopped first.
func (c *Client) Initialize(ctx context.Context, cred models.MCredential) error {
	if c.verifier != nil {
		if err := c.verifier.VerifyProfile(ctx, cred); err != nil {
			return err
		}
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stopped {
		return errors.New("feed client stopped")
	}
	c.stopLoopLocked()

	runCtx, cancel := context.WithCancel(c.baseCtx)
	done := make(chan struct{})
	c.cancelRun = cancel
	c.runDone = done

	go func() {
		defer close(done)
		c.run(runCtx, cred)
	}()
	return nil
}

// -----------------------------------------------------------------------------

// Stop closes the upstream connection and waits for the loop to exit.
func (c *Client) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.stopped = true
	c.stopLoopLocked()
	c.setState(StateClosed)
}

// -----------------------------------------------------------------------------

func (c *Client) stopLoopLocked() {
	if c.cancelRun == nil {
		return
	}
	c.cancelRun()
	<-c.runDone
	c.cancelRun = nil
	c.runDone = nil
}

// -----------------------------------------------------------------------------
// Router sink
// -----------------------------------------------------------------------------

// ApplyDelta queues the change. The writer flushes it while connected; a
// reconnect discards the queue in favour of a full resync.
func (c *Client) ApplyDelta(added, removed []models.MSymbol) {
	c.pendingMu.Lock()
	if len(c.pending) >= maxPendingOps && !c.Connected() {
		c.pending = c.pending[:0]
	}
	if len(removed) > 0 {
		c.pending = append(c.pending, pendingOp{subscribe: false, symbols: models.SymbolKeys(removed)})
	}
	if len(added) > 0 {
		c.pending = append(c.pending, pendingOp{subscribe: true, symbols: models.SymbolKeys(added)})
	}
	c.pendingMu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

func (c *Client) drain() []pendingOp {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ops := c.pending
	c.pending = nil
	return ops
}

// -----------------------------------------------------------------------------
// Connection loop
// -----------------------------------------------------------------------------

func (c *Client) run(ctx context.Context, cred models.MCredential) {
	reconnect := helpers.NewReconnectBackOff(c.opts.BackoffBase, c.opts.BackoffMax)

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dialer.Dial(ctx, cred)
		if err == nil {
			reconnect.Reset()
			err = c.session(ctx, conn)
			_ = conn.Close()
		}

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			c.notify(StatusDisconnected, "stopped")
			return
		}
		if helpers.IsAuthExpired(err) {
			c.authExpired(err)
			return
		}

		c.setState(StateError)
		c.Logger.Warning("Upstream connection lost: %v", err)
		c.notify(StatusError, errString(err))

		delay := reconnect.NextBackOff()
		c.Logger.Info("Reconnecting to upstream in %v", delay)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

// -----------------------------------------------------------------------------

// session resyncs the full active set, then runs the writer and the reader
// until the connection fails or ctx ends.
func (c *Client) session(ctx context.Context, conn interfaces.IConn) error {
	c.drain()
	if keys := models.SymbolKeys(c.active.ActiveSymbols()); len(keys) > 0 {
		if err := conn.Subscribe(keys); err != nil {
			return helpers.NewTransientIO("resubscribe active set", err)
		}
		c.Logger.Info("Resubscribed %d symbols after connect", len(keys))
	}

	c.setState(StateConnected)
	c.notify(StatusConnected, "")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		writerErr <- c.writer(sessCtx, conn)
	}()
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	readErr := c.reader(conn)
	cancel()
	wg.Wait()

	if werr := <-writerErr; werr != nil && !errors.Is(werr, context.Canceled) && !helpers.IsAuthExpired(readErr) {
		return werr
	}
	return readErr
}

// -----------------------------------------------------------------------------

func (c *Client) writer(ctx context.Context, conn interfaces.IConn) error {
	for {
		for _, op := range c.drain() {
			var err error
			if op.subscribe {
				err = conn.Subscribe(op.symbols)
			} else {
				err = conn.Unsubscribe(op.symbols)
			}
			if err != nil {
				_ = conn.Close()
				return helpers.NewTransientIO("send subscription change", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.signal:
		}
	}
}

// -----------------------------------------------------------------------------

// reader dispatches frames on this goroutine only, preserving per-symbol
// order.
func (c *Client) reader(conn interfaces.IConn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return helpers.NewTransientIO("read upstream", err)
		}

		frames, err := ParseFrames(data, c.now)
		if err != nil {
			c.Logger.Debug("Dropping malformed upstream frame: %v", err)
			continue
		}

		for _, f := range frames {
			switch f.Kind {
			case FrameTick:
				if !c.active.IsActive(f.Tick.Symbol) {
					continue
				}
				c.handler.HandleTick(f.Tick)
			case FrameError:
				if f.IsAuthError() {
					return helpers.NewAuthExpired("upstream auth error frame", errors.New(f.Message))
				}
				c.Logger.Warning("Upstream error frame: code=%d message=%s", f.Code, f.Message)
			case FrameAck:
				c.Logger.Debug("Upstream ack: %s", f.Message)
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (c *Client) authExpired(err error) {
	c.setState(StateDisconnected)
	c.Logger.Warning("Upstream credential rejected, waiting for a new one: %v", err)
	c.notify(StatusAuthExpired, errString(err))

	c.listenersMu.RLock()
	callbacks := append([]func(error){}, c.onAuthExpired...)
	c.listenersMu.RUnlock()
	for _, fn := range callbacks {
		fn(err)
	}
}

// -----------------------------------------------------------------------------

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.Logger.Debug("Feed state %s -> %s", prev, s)
	}
}

// -----------------------------------------------------------------------------

func (c *Client) notify(status, detail string) {
	c.listenersMu.RLock()
	ls := append([]interfaces.IFeedStatusListener{}, c.listeners...)
	c.listenersMu.RUnlock()
	for _, l := range ls {
		l.OnFeedStatus(status, detail)
	}
}

// -----------------------------------------------------------------------------

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
