package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pageforge/buildstream/internal/domain/events"
	"github.com/pageforge/buildstream/internal/domain/session"
)

// StatusChange is one stream-status transition, with optional transient
// error text for the reconnecting indicator.
type StatusChange struct {
	Status session.StreamStatus
	Err    string
}

// Config configures a reconnecting stream client.
type Config struct {
	// URL of the per-build stream endpoint.
	URL string
	// BuildID identifies the build, for the state machine and log fields.
	BuildID string
	// Transport opens connections. Nil defaults to SSE.
	Transport Transport
	// BackoffBase and BackoffCap bound the retry delay. Zero values use
	// the defaults (1s base, 10s cap).
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxAttempts caps consecutive failed attempts before the client parks
	// in the error status. Zero means retry indefinitely.
	MaxAttempts int
	// Resync is invoked after a dropped connection, before the next
	// attempt, to patch any event gap with a fresh snapshot. Best effort:
	// a resync failure never stops reconnection.
	Resync func(ctx context.Context) error
	// Logger for connection lifecycle and decode failures. Nil uses the
	// logrus standard logger.
	Logger *logrus.Entry
}

// Client maintains one live connection to a build's push-event endpoint
// and surfaces exactly one decoded event per inbound frame. On transport
// failure it retries with exponential backoff; the retry counter resets on
// every successful open. At most one connection and one pending retry
// timer exist at any time, both torn down by Close.
type Client struct {
	cfg     Config
	backoff *Backoff
	fsm     *session.StreamStateMachine
	logger  *logrus.Entry

	events chan events.Event
	status chan StatusChange

	mu   sync.Mutex
	conn Conn

	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool

	decodeFailures atomic.Uint64
}

// New creates a client. It does not connect until Start is called.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		cfg.Transport = NewSSETransport(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("build_id", cfg.BuildID)

	fsm, err := session.NewStreamStateMachine(session.StreamIdle, cfg.BuildID)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffCap),
		fsm:     fsm,
		logger:  logger,
		events:  make(chan events.Event, 64),
		status:  make(chan StatusChange, 8),
		done:    make(chan struct{}),
	}, nil
}

// Events returns the channel of decoded events, in transport delivery
// order. Closed when the client stops.
func (c *Client) Events() <-chan events.Event {
	return c.events
}

// Status returns the channel of stream-status transitions. Slow consumers
// miss intermediate transitions rather than blocking the stream.
func (c *Client) Status() <-chan StatusChange {
	return c.status
}

// CurrentStatus returns the stream status as tracked by the state machine.
func (c *Client) CurrentStatus() session.StreamStatus {
	return c.fsm.Current()
}

// DecodeFailures returns the number of frames skipped as malformed.
func (c *Client) DecodeFailures() uint64 {
	return c.decodeFailures.Load()
}

// Start flips the client to reconnecting and begins the connect loop.
// Subsequent calls are no-ops.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)

		// Decided under mu so it is atomic with Close: once Close has
		// taken channel ownership, run must never spawn.
		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			cancel()
			return
		}
		c.cancel = cancel
		c.mu.Unlock()

		_ = c.fsm.Transition(session.EventActivate)
		c.emitStatus(session.StreamReconnecting, "")

		go c.run(runCtx)
	})
}

// Close tears the client down: the live connection is closed and any
// pending retry timer is cancelled synchronously. No reconnection attempt
// outlives Close. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		cancel := c.cancel
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if cancel != nil {
			<-c.done
		} else {
			close(c.done)
			close(c.events)
			close(c.status)
		}
	})
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		close(c.done)
		close(c.events)
		close(c.status)
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			c.deactivate()
			return
		}

		conn, err := c.cfg.Transport.Connect(ctx, c.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				c.deactivate()
				return
			}

			failures++
			if c.cfg.MaxAttempts > 0 && failures >= c.cfg.MaxAttempts {
				c.logger.WithError(err).Warn("stream retry ceiling reached, giving up")
				_ = c.fsm.Transition(session.EventGiveUp)
				c.emitStatus(session.StreamError, err.Error())
				return
			}

			delay := c.backoff.Next()
			c.logger.WithError(err).WithField("retry_in", delay).Debug("stream connect failed")
			c.emitStatus(session.StreamReconnecting, err.Error())

			if !c.sleep(ctx, delay) {
				c.deactivate()
				return
			}
			continue
		}

		// One live connection at a time; the previous handle is always
		// closed before this point.
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		failures = 0
		c.backoff.Reset()
		_ = c.fsm.Transition(session.EventOpened)
		c.emitStatus(session.StreamConnected, "")
		c.logger.Info("stream connected")

		readErr := c.consume(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.deactivate()
			return
		}

		errText := ""
		if readErr != nil {
			errText = readErr.Error()
		}
		c.logger.WithError(readErr).Warn("stream dropped, reconnecting")
		_ = c.fsm.Transition(session.EventDropped)
		c.emitStatus(session.StreamReconnecting, errText)

		// Patch the gap left by the dead socket before resubscribing.
		if c.cfg.Resync != nil {
			if err := c.cfg.Resync(ctx); err != nil && ctx.Err() == nil {
				c.logger.WithError(err).Warn("snapshot resync failed, relying on live events")
			}
		}

		if !c.sleep(ctx, c.backoff.Next()) {
			c.deactivate()
			return
		}
	}
}

// consume reads frames until the connection fails, surfacing one decoded
// event per valid frame. Malformed frames are counted and skipped; they
// never abort the stream.
func (c *Client) consume(ctx context.Context, conn Conn) error {
	for {
		frame, err := conn.Next()
		if err != nil {
			return err
		}

		kind, err := events.ParseKind(frame.Event)
		if err != nil {
			c.decodeFailures.Add(1)
			c.logger.WithField("event", frame.Event).Debug("skipping frame with unknown kind")
			continue
		}

		ev, err := events.Decode(kind, frame.Data)
		if err != nil {
			c.decodeFailures.Add(1)
			c.logger.WithError(err).WithField("kind", kind).Debug("skipping malformed frame")
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sleep waits for the retry delay. Returns false if the context was
// cancelled first, which also cancels the pending timer.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) deactivate() {
	_ = c.fsm.Transition(session.EventDeactivate)
	c.emitStatus(session.StreamIdle, "")
}

// emitStatus publishes a status transition without ever blocking the
// stream loop; a slow consumer misses intermediate states.
func (c *Client) emitStatus(status session.StreamStatus, errText string) {
	select {
	case c.status <- StatusChange{Status: status, Err: errText}:
	default:
	}
}
