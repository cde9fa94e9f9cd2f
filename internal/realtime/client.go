package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/subscription"
)

var (
	// ErrNotConnected is returned by Send when there is no live session.
	ErrNotConnected = errors.New("not connected")

	// ErrHandshakeTimeout reports a dial that did not complete within HandshakeTimeout.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrDisabled is the cause recorded when the transport is switched off.
	ErrDisabled = errors.New("realtime transport disabled")
)

// Options configures the realtime client.
type Options struct {
	// URL of the event server (ws, wss, http or https). Ignored when Dialer is set.
	URL string

	// Header is sent with every handshake. Ignored when Dialer is set.
	Header http.Header

	// Enabled is consulted on every Connect and RetryConnection. A nil func
	// means always enabled.
	Enabled func() bool

	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration

	// ReconnectInterval is the base interval between reconnection attempts
	ReconnectInterval time.Duration

	// MaxReconnectInterval is the maximum interval between reconnection attempts
	MaxReconnectInterval time.Duration

	// MaxConsecutiveErrors is the number of transport errors after which the
	// client stops retrying and goes PermanentlyFailed.
	MaxConsecutiveErrors int

	// MaxReconnectAttempts bounds redials without a productive session in
	// between. A session is productive once it delivers a frame.
	MaxReconnectAttempts int

	Dialer        Dialer
	Handler       Handler
	Subscriptions *subscription.Registry

	// Logger for the client
	Logger *zap.Logger
}

// DefaultOptions returns default options for the realtime client.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout:     10 * time.Second,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 5 * time.Second,
		MaxConsecutiveErrors: 3,
		MaxReconnectAttempts: 5,
		Logger:               zap.NewNop(),
	}
}

type listenerEntry struct {
	id uint64
	fn StatusListener
}

// Client maintains at most one live session with the event server, replays
// subscriptions after every connect and dispatches inbound frames to the
// Handler in delivery order.
type Client struct {
	opts    Options
	logger  *zap.Logger
	dialer  Dialer
	handler Handler
	subs    *subscription.Registry

	mu         sync.Mutex
	state      ConnectionState
	closed     bool
	gen        uint64 // bumped on every teardown and start; stale loops compare against it
	epoch      uint64 // bumped on every successful connect
	caughtUp   bool
	errorCount int
	attempts   int
	lastErr    error
	conn       Conn
	cancel     context.CancelFunc
	baseCtx    context.Context

	listeners      []listenerEntry
	nextListenerID uint64
	pending        []StatusChange
	notifying      bool

	// Metrics
	reconnects     uint64
	framesReceived uint64
	framesDropped  uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewClient creates a realtime client in the Disconnected state. Nothing is
// dialed until Connect or Subscribe.
func NewClient(opts Options) (*Client, error) {
	defaults := DefaultOptions()
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaults.ReconnectInterval
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = defaults.MaxReconnectInterval
	}
	if opts.MaxReconnectInterval < opts.ReconnectInterval {
		opts.MaxReconnectInterval = opts.ReconnectInterval
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = defaults.MaxConsecutiveErrors
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if opts.Subscriptions == nil {
		opts.Subscriptions = subscription.NewRegistry()
	}
	if opts.Handler == nil {
		opts.Handler = HandlerFunc(func(context.Context, Frame) {})
	}

	dialer := opts.Dialer
	if dialer == nil {
		wd, err := NewWebsocketDialer(opts.URL, opts.Header)
		if err != nil {
			return nil, err
		}
		dialer = wd
	}

	return &Client{
		opts:    opts,
		logger:  opts.Logger.Named("realtime"),
		dialer:  dialer,
		handler: opts.Handler,
		subs:    opts.Subscriptions,
		state:   StateDisconnected,
		baseCtx: context.Background(),
	}, nil
}

// Connect starts the connection loop. It is a no-op unless the client is
// Disconnected. ctx bounds every session started from now on, including
// automatic redials and RetryConnection.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if ctx != nil {
		c.baseCtx = ctx
	}
	c.errorCount = 0
	c.attempts = 0
	c.startLocked()
	c.mu.Unlock()
	c.flushNotifications()
}

// RetryConnection tears down any session, resets the error counters and
// dials again. It is the only way out of PermanentlyFailed.
func (c *Client) RetryConnection() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	stale := c.teardownLocked()
	c.errorCount = 0
	c.attempts = 0
	c.lastErr = nil
	c.logger.Info("manual connection retry")
	c.startLocked()
	c.mu.Unlock()
	closeConn(stale)
	c.flushNotifications()
}

// Disable forces PermanentlyFailed and tears down the session. Used when the
// backend does not support the transport.
func (c *Client) Disable() {
	c.mu.Lock()
	stale := c.teardownLocked()
	c.lastErr = ErrDisabled
	c.transitionLocked(StatePermanentlyFailed, ErrDisabled)
	c.mu.Unlock()
	closeConn(stale)
	c.flushNotifications()
}

// Disconnect tears down the session and returns to Disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	stale := c.teardownLocked()
	c.transitionLocked(StateDisconnected, nil)
	c.mu.Unlock()
	closeConn(stale)
	c.flushNotifications()
}

// Close disconnects and waits for the connection loop to exit. The client
// cannot be reconnected afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
	c.wg.Wait()
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if a session is live.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// IsAvailable reports whether the transport may still deliver events.
// Callers fall back to polling when it returns false.
func (c *Client) IsAvailable() bool {
	return c.State() != StatePermanentlyFailed
}

// IsCaughtUp returns true once every registered subscription has been
// replayed on the current session.
func (c *Client) IsCaughtUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.caughtUp
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := ClientStats{
		State:          c.state,
		ErrorCount:     c.errorCount,
		Reconnects:     c.reconnects,
		FramesReceived: c.framesReceived,
		FramesDropped:  c.framesDropped,
		Subscriptions:  c.subs.Len(),
	}
	if c.lastErr != nil {
		stats.LastError = c.lastErr.Error()
	}
	return stats
}

// Subscriptions returns the registry backing Subscribe and Unsubscribe.
func (c *Client) Subscriptions() *subscription.Registry {
	return c.subs
}

// OnStatusChange registers l for every state transition. Listeners run
// synchronously, in registration order, once per transition. The returned
// func removes the listener.
func (c *Client) OnStatusChange(l StatusListener) func() {
	c.mu.Lock()
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: l})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, e := range c.listeners {
				if e.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Send writes f on the live session.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return c.writeFrame(conn, f)
}

// Subscribe registers channelID and emits a subscribe frame if a session is
// live. Otherwise it starts connecting and the frame goes out with the replay
// on the next Connected transition. Subscribing to a registered channel does
// nothing.
func (c *Client) Subscribe(channelID string) error {
	if err := subscription.Validate(channelID); err != nil {
		return err
	}
	if !c.subs.Add(channelID) {
		return nil
	}

	c.mu.Lock()
	conn, epoch := c.conn, c.epoch
	connected := c.state == StateConnected && conn != nil
	ctx := c.baseCtx
	c.mu.Unlock()

	if !connected {
		c.Connect(ctx)
		return nil
	}
	return c.emitSubscribe(conn, channelID, epoch)
}

// Unsubscribe removes channelID from the registry and, if it was registered
// and a session is live, emits an unsubscribe frame.
func (c *Client) Unsubscribe(channelID string) error {
	if err := subscription.Validate(channelID); err != nil {
		return err
	}
	if !c.subs.Remove(channelID) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}

	f, err := NewFrame(TypeUnsubscribePipeline, ChannelPayload{PipelineID: channelID})
	if err != nil {
		return err
	}
	if err := c.writeFrame(conn, f); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) emitSubscribe(conn Conn, channelID string, epoch uint64) error {
	if !c.subs.MarkEmitted(channelID, epoch) {
		return nil
	}
	f, err := NewFrame(TypeSubscribePipeline, ChannelPayload{PipelineID: channelID})
	if err != nil {
		c.subs.Unmark(channelID, epoch)
		return err
	}
	if err := c.writeFrame(conn, f); err != nil {
		// Stays registered; the next session replays it.
		c.subs.Unmark(channelID, epoch)
		return fmt.Errorf("subscribe %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) writeFrame(conn Conn, f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteFrame(f)
}

// startLocked launches a connection loop for a new generation.
func (c *Client) startLocked() {
	if c.opts.Enabled != nil && !c.opts.Enabled() {
		c.logger.Info("realtime transport disabled, not connecting")
		c.lastErr = ErrDisabled
		c.transitionLocked(StatePermanentlyFailed, ErrDisabled)
		return
	}

	c.gen++
	gen := c.gen
	loopCtx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.caughtUp = false
	c.transitionLocked(StateConnecting, nil)

	c.wg.Add(1)
	go c.connectionLoop(loopCtx, gen)
}

// teardownLocked invalidates the running loop and detaches its session. The
// caller closes the returned Conn after releasing mu.
func (c *Client) teardownLocked() Conn {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	stale := c.conn
	c.conn = nil
	c.caughtUp = false
	connectedGauge.Set(0)
	return stale
}

func closeConn(conn Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

// connectionLoop dials, replays subscriptions and reads frames until its
// generation goes stale or the retry budget is exhausted.
func (c *Client) connectionLoop(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	reconnectInterval := c.opts.ReconnectInterval

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !c.handleTransportError(gen, err, reconnectInterval) {
				return
			}
			if !sleepCtx(ctx, reconnectInterval) {
				return
			}
			reconnectInterval = c.nextReconnectInterval(reconnectInterval)
			continue
		}

		epoch, ok := c.handleConnected(gen, conn)
		if !ok {
			closeConn(conn)
			return
		}
		// Reset reconnect interval on successful connection
		reconnectInterval = c.opts.ReconnectInterval

		c.replaySubscriptions(gen, epoch, conn)

		err = c.readLoop(ctx, gen, conn)
		if ctx.Err() != nil {
			return
		}
		if !c.handleDisconnected(gen, conn, err, reconnectInterval) {
			return
		}
		if !sleepCtx(ctx, reconnectInterval) {
			return
		}
		reconnectInterval = c.nextReconnectInterval(reconnectInterval)
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrHandshakeTimeout, c.opts.HandshakeTimeout, err)
		}
		return nil, err
	}
	return conn, nil
}

// handleTransportError records a failed dial. Returns false if the loop must stop.
func (c *Client) handleTransportError(gen uint64, err error, retryIn time.Duration) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	transportErrorsTotal.Inc()
	c.errorCount++
	c.attempts++
	c.lastErr = err
	keepGoing := c.retryBudgetLeftLocked()
	if keepGoing {
		c.logger.Warn("failed to connect to event server",
			zap.Error(err),
			zap.Int("error_count", c.errorCount),
			zap.Duration("retry_in", retryIn))
		c.transitionLocked(StateReconnecting, err)
	} else {
		c.failLocked(err)
	}
	c.mu.Unlock()
	c.flushNotifications()
	return keepGoing
}

// handleConnected publishes conn as the live session. Returns the new
// connection epoch, or false if gen went stale during the dial.
func (c *Client) handleConnected(gen uint64, conn Conn) (uint64, bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return 0, false
	}
	if c.state == StateReconnecting {
		c.reconnects++
		reconnectsTotal.Inc()
	}
	c.conn = conn
	c.errorCount = 0
	c.epoch++
	epoch := c.epoch
	c.caughtUp = false
	connectedGauge.Set(1)
	c.logger.Info("connected to event server", zap.Uint64("epoch", epoch))
	c.transitionLocked(StateConnected, nil)
	c.mu.Unlock()
	c.flushNotifications()
	return epoch, true
}

// replaySubscriptions emits a subscribe frame for every registered channel
// not yet emitted in this epoch.
func (c *Client) replaySubscriptions(gen, epoch uint64, conn Conn) {
	channels := c.subs.List()
	for _, ch := range channels {
		if !c.isCurrent(gen) {
			return
		}
		if err := c.emitSubscribe(conn, ch, epoch); err != nil {
			// The read loop sees the broken session and redials.
			c.logger.Warn("failed to replay subscription", zap.String("channel", ch), zap.Error(err))
			return
		}
	}

	c.mu.Lock()
	if gen == c.gen && c.epoch == epoch {
		c.caughtUp = true
	}
	c.mu.Unlock()
	if len(channels) > 0 {
		c.logger.Debug("replayed subscriptions", zap.Int("count", len(channels)), zap.Uint64("epoch", epoch))
	}
}

// readLoop reads frames until the session ends. Malformed frames are skipped.
func (c *Client) readLoop(ctx context.Context, gen uint64, conn Conn) error {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				c.logger.Warn("dropping malformed frame", zap.Error(err))
				c.recordDropped()
				continue
			}
			return err
		}
		if !c.recordFrame(gen, f.Type) {
			return nil
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) dispatch(ctx context.Context, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame handler panicked",
				zap.String("type", f.Type),
				zap.Any("panic", r))
			c.recordDropped()
		}
	}()
	c.handler.HandleFrame(ctx, f)
}

// handleDisconnected records the end of a session. Returns false if the loop must stop.
func (c *Client) handleDisconnected(gen uint64, conn Conn, err error, retryIn time.Duration) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.conn = nil
	c.caughtUp = false
	connectedGauge.Set(0)
	c.attempts++
	if errors.Is(err, ErrServerClosed) || err == nil {
		c.logger.Info("event server closed the session", zap.Duration("retry_in", retryIn))
	} else {
		transportErrorsTotal.Inc()
		c.errorCount++
		c.lastErr = err
		c.logger.Warn("event stream disconnected",
			zap.Error(err),
			zap.Int("error_count", c.errorCount),
			zap.Duration("retry_in", retryIn))
	}
	keepGoing := c.retryBudgetLeftLocked()
	if keepGoing {
		c.transitionLocked(StateReconnecting, err)
	} else {
		c.failLocked(err)
	}
	c.mu.Unlock()
	closeConn(conn)
	c.flushNotifications()
	return keepGoing
}

func (c *Client) retryBudgetLeftLocked() bool {
	return c.errorCount < c.opts.MaxConsecutiveErrors && c.attempts <= c.opts.MaxReconnectAttempts
}

// failLocked stops automatic retries. Only RetryConnection leaves this state.
func (c *Client) failLocked(err error) {
	c.logger.Error("giving up on event server, manual retry required",
		zap.Error(err),
		zap.Int("error_count", c.errorCount),
		zap.Int("attempts", c.attempts))
	if stale := c.teardownLocked(); stale != nil {
		go closeConn(stale)
	}
	c.transitionLocked(StatePermanentlyFailed, err)
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// recordFrame counts an inbound frame. Returns false if gen is stale.
func (c *Client) recordFrame(gen uint64, frameType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.framesReceived++
	c.attempts = 0
	framesTotal.WithLabelValues(frameType).Inc()
	return true
}

func (c *Client) recordDropped() {
	c.mu.Lock()
	c.framesDropped++
	c.mu.Unlock()
	framesDroppedTotal.Inc()
}

// transitionLocked queues a notification if the state actually changes.
func (c *Client) transitionLocked(to ConnectionState, cause error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.pending = append(c.pending, StatusChange{From: from, To: to, At: time.Now(), Err: cause})
}

// flushNotifications delivers queued transitions outside mu. A listener that
// triggers another transition has it delivered after the current one by the
// flush already in progress.
func (c *Client) flushNotifications() {
	c.mu.Lock()
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true
	for len(c.pending) > 0 {
		change := c.pending[0]
		c.pending = c.pending[1:]
		listeners := make([]listenerEntry, len(c.listeners))
		copy(listeners, c.listeners)
		c.mu.Unlock()

		for _, l := range listeners {
			c.notify(l.fn, change)
		}

		c.mu.Lock()
	}
	c.pending = nil
	c.notifying = false
	c.mu.Unlock()
}

func (c *Client) notify(l StatusListener, change StatusChange) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("status listener panicked",
				zap.String("from", string(change.From)),
				zap.String("to", string(change.To)),
				zap.Any("panic", r))
		}
	}()
	l(change)
}

// nextReconnectInterval calculates the next reconnect interval with exponential backoff.
func (c *Client) nextReconnectInterval(current time.Duration) time.Duration {
	next := current * 2
	if next > c.opts.MaxReconnectInterval {
		return c.opts.MaxReconnectInterval
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
