package obsws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyradotpink/influencer/internal/fanout"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Client.
type Options struct {
	Password string
	// EventSubscriptions is sent in Identify; nil keeps the server default.
	EventSubscriptions *EventSubscription
	// RequestTimeout bounds every request. Zero means wait until the context
	// ends or the session closes.
	RequestTimeout time.Duration
	Logger         zerolog.Logger
	// NewID generates request ids. Defaults to random UUIDs.
	NewID func() string
	// EventQueue bounds subscriber queues. The zero value is unbounded.
	EventQueue fanout.Options
	// MaxViolations closes the session after that many protocol violations.
	// Zero keeps the session open no matter how many arrive.
	MaxViolations int

	// OnViolation and OnDisconnected run on the read loop. Both may call
	// Close; neither should block.
	OnViolation    func(error)
	OnDisconnected func(error)
}

// Subscription is a private, ordered queue of events.
type Subscription = fanout.Sink[Event]

// Client is an identified session with an OBS websocket server. Requests may
// be issued from any number of goroutines.
type Client struct {
	conn  Conn
	opts  Options
	log   zerolog.Logger
	hello Hello
	rpc   int

	mu      sync.Mutex
	pending map[string]*pendingCall
	reident chan Identified
	err     error

	reidentMu  sync.Mutex
	events     *fanout.Hub[Event]
	violations atomic.Int64

	closing    atomic.Bool
	closeOnce  sync.Once
	inCallback atomic.Bool // OnViolation is running on the read loop
	done       chan struct{}
}

type pendingCall struct {
	op OpCode
	ch chan Envelope
}

// Connect authenticates over conn and starts the read loop. ctx only bounds
// the handshake. On failure conn is closed.
func Connect(ctx context.Context, conn Conn, opts Options) (*Client, error) {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	log := opts.Logger.With().Str("component", "obsws").Logger()

	auth, err := Handshake(ctx, conn, opts.Password, opts.EventSubscriptions)
	if err != nil {
		_ = conn.Close()
		log.Debug().Err(err).Msg("handshake failed")
		return nil, err
	}

	c := &Client{
		conn:    conn,
		opts:    opts,
		log:     log,
		hello:   auth.Hello(),
		rpc:     auth.NegotiatedRPCVersion(),
		pending: make(map[string]*pendingCall),
		events:  fanout.New(opts.EventQueue, Event.Clone),
		done:    make(chan struct{}),
	}
	log.Info().
		Int("rpc_version", c.rpc).
		Str("server_version", c.hello.ObsWebSocketVersion).
		Msg("identified")

	go c.readLoop()
	return c, nil
}

// RPCVersion is the version negotiated in Identified.
func (c *Client) RPCVersion() int { return c.rpc }

// ServerVersion is the obs-websocket version from Hello.
func (c *Client) ServerVersion() string { return c.hello.ObsWebSocketVersion }

// Done is closed once the session has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the session ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Violations returns how many protocol violations the session has seen.
func (c *Client) Violations() int64 { return c.violations.Load() }

// Subscribe returns a new event queue. It sees only events received after the
// call. Close it when done; an abandoned unbounded queue grows without limit.
func (c *Client) Subscribe() *Subscription { return c.events.Subscribe() }

// Subscribers returns the number of live subscriptions.
func (c *Client) Subscribers() int { return c.events.Len() }

// Close ends the session and waits for the read loop to finish. Pending
// requests fail with ErrConnectionClosed. Safe to call more than once, and
// from OnViolation or OnDisconnected, where it does not wait.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.conn.Close()
	})
	if c.inCallback.Load() {
		return nil
	}
	<-c.done
	return nil
}

// ========================= requests =========================

// Do sends req and waits for its response. An empty req.ID is filled with a
// fresh id. A rejected status is not an error here; see SendRequest.
func (c *Client) Do(ctx context.Context, req Request) (*RequestResponse, error) {
	env, err := c.roundTrip(ctx, OpRequest, OpRequestResponse, req.ID, func(id string) any {
		req.ID = id
		return req
	})
	if err != nil {
		return nil, err
	}
	var resp RequestResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendRequest sends a request and returns its responseData. A response with
// result false comes back as a *RequestError.
func (c *Client) SendRequest(ctx context.Context, requestType string, data json.RawMessage) (json.RawMessage, error) {
	resp, err := c.Do(ctx, Request{Type: requestType, Data: data})
	if err != nil {
		return nil, err
	}
	if !resp.Status.Result {
		return nil, rejection(resp)
	}
	return resp.Data, nil
}

// RequestBatch sends a batch and waits for the combined response. Per-request
// failures are reported in the results, not as an error.
func (c *Client) RequestBatch(ctx context.Context, batch RequestBatch) (*RequestBatchResponse, error) {
	env, err := c.roundTrip(ctx, OpRequestBatch, OpRequestBatchResponse, batch.ID, func(id string) any {
		batch.ID = id
		if batch.Requests == nil {
			batch.Requests = []BatchRequest{}
		}
		return batch
	})
	if err != nil {
		return nil, err
	}
	var resp RequestBatchResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reidentify changes the event subscriptions of the live session and waits
// for the server to confirm with Identified.
func (c *Client) Reidentify(ctx context.Context, subscriptions *EventSubscription) error {
	c.reidentMu.Lock()
	defer c.reidentMu.Unlock()

	ch := make(chan Identified, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.reident = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.reident == ch {
			c.reident = nil
		}
		c.mu.Unlock()
	}()

	frame, err := Encode(OpReidentify, Reidentify{EventSubscriptions: subscriptions})
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	timeout, stop := c.timer()
	defer stop()
	select {
	case _, ok := <-ch:
		if !ok {
			if err := c.Err(); err != nil {
				return err
			}
			return violation(OpIdentified, "malformed reply to Reidentify")
		}
		c.log.Debug().Msg("reidentified")
		return nil
	case <-timeout:
		return fmt.Errorf("%w: Reidentify", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) roundTrip(ctx context.Context, op, replyOp OpCode, id string, body func(id string) any) (Envelope, error) {
	call := &pendingCall{op: replyOp, ch: make(chan Envelope, 1)}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Envelope{}, err
	}
	if id == "" {
		id = c.newIDLocked()
	} else if _, taken := c.pending[id]; taken {
		c.mu.Unlock()
		return Envelope{}, fmt.Errorf("%w: %q", ErrDuplicateRequestID, id)
	}
	c.pending[id] = call
	c.mu.Unlock()

	frame, err := Encode(op, body(id))
	if err != nil {
		c.forget(id)
		return Envelope{}, err
	}
	if err := c.conn.WriteMessage(frame); err != nil {
		// the connection dropped between registering and writing
		c.forget(id)
		return Envelope{}, &TransportError{Op: "write", Err: err}
	}

	timeout, stop := c.timer()
	defer stop()
	select {
	case env, ok := <-call.ch:
		if !ok {
			return Envelope{}, c.Err()
		}
		if env.Op != call.op {
			return Envelope{}, violation(env.Op, "reply to %s %q", op, id)
		}
		return env, nil
	case <-timeout:
		c.forget(id)
		return Envelope{}, fmt.Errorf("%w: %s %q", ErrTimeout, op, id)
	case <-ctx.Done():
		c.forget(id)
		return Envelope{}, ctx.Err()
	}
}

func (c *Client) newIDLocked() string {
	for {
		id := c.opts.NewID()
		if _, taken := c.pending[id]; id != "" && !taken {
			return id
		}
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) timer() (<-chan time.Time, func()) {
	if c.opts.RequestTimeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(c.opts.RequestTimeout)
	return t.C, func() { t.Stop() }
}
