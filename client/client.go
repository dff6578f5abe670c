// Package client implements a GameBox remote-control connection: dial,
// banner handshake, the multiplexed call/callback receive loop, and the
// connection lifecycle built on top of frame, xmlrpc, handle and pending.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gbxremote/frame"
	"gbxremote/handle"
	"gbxremote/middleware"
	"gbxremote/pending"
	"gbxremote/xmlrpc"
)

// CallbackHandler receives an unsolicited server-initiated method call.
// params is shared with every other handler in the fan-out; handlers must
// not mutate it.
type CallbackHandler func(method string, params []xmlrpc.Value)

// ConnectedHandler is invoked once the handshake completes and the receive
// loop is running.
type ConnectedHandler func()

// DisconnectedHandler is invoked exactly once per connection when the
// receive loop exits, whether from Disconnect or from a transport error.
type DisconnectedHandler func(err error)

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger sets the logger used for lifecycle and warning messages.
// The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMaxBody bounds the size of a single frame body. The default is
// frame.DefaultMaxBody.
func WithMaxBody(n uint32) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithHandshakeTimeout bounds how long Connect waits for the connect
// banner. The default is one second.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// WithMiddleware wraps every outgoing Call with the given middleware,
// innermost last, matching middleware.Chain's ordering.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mw...) }
}

// Client is a single GameBox remote-control connection. It is safe for
// concurrent use: many goroutines may call Call while one goroutine calls
// Disconnect.
type Client struct {
	log              *zap.Logger
	maxBody          uint32
	handshakeTimeout time.Duration
	middlewares      []middleware.Middleware

	handles *handle.Allocator
	invoke  middleware.Invoker

	mu    sync.Mutex
	state State
	conn  net.Conn
	pend  *pending.Table
	done  chan struct{}

	writeMu sync.Mutex

	subMu                sync.Mutex
	callbackHandlers     []CallbackHandler
	connectedHandlers    []ConnectedHandler
	disconnectedHandlers []DisconnectedHandler
}

// New creates a Client in the Disconnected state. Connect must be called
// before any Call succeeds.
func New(opts ...Option) *Client {
	c := &Client{
		log:              zap.NewNop(),
		maxBody:          frame.DefaultMaxBody,
		handshakeTimeout: time.Second,
		handles:          handle.New(),
		state:            Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.invoke = middleware.Chain(c.middlewares...)(c.rawCall)
	return c
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials host:port, performs the connect-banner handshake, and
// starts the receive loop. On dial failure it retries up to retries times
// with retryBackoff between attempts; an invalid protocol banner is
// terminal and is never retried. ctx bounds the whole operation, including
// retries.
func (c *Client) Connect(ctx context.Context, host string, port int, retries int, retryBackoff time.Duration) error {
	c.mu.Lock()
	if c.state != Disconnected {
		st := c.state
		c.mu.Unlock()
		return errors.Errorf("gbxremote: connect called while %s", st)
	}
	c.state = Connecting
	c.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", host, port)
	var conn net.Conn

	op := func() error {
		dialed, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.state = Handshaking
		c.mu.Unlock()

		banner, err := frame.ReadBanner(dialed, time.Now().Add(c.handshakeTimeout))
		if err != nil {
			dialed.Close()
			return err
		}
		if err := frame.CheckProtocol(banner); err != nil {
			dialed.Close()
			return backoff.Permanent(err)
		}

		conn = dialed
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryBackoff), uint64(retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()

		if invalid, ok := err.(*frame.InvalidProtocolError); ok {
			return invalid
		}
		return errors.Wrap(err, "gbxremote: connect")
	}

	pend := pending.New()
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.pend = pend
	c.done = done
	c.state = Connected
	c.mu.Unlock()

	c.log.Info("connected", zap.String("addr", addr))
	go c.recvLoop(conn, pend, done)
	c.fireConnected()
	return nil
}

// Disconnect closes the connection and waits for the receive loop to
// finish failing every pending call and firing the Disconnected event.
// It is idempotent: calling it when already disconnected is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	done := c.done
	c.state = Disconnecting
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
	return nil
}

// Call issues a remote method call and waits for its response. It fails
// fast with NotConnectedError outside the Connected state.
func (c *Client) Call(ctx context.Context, method string, args ...xmlrpc.Value) (*xmlrpc.Response, error) {
	return c.invoke(ctx, method, args)
}

// rawCall is the unwrapped Call implementation middleware wraps.
func (c *Client) rawCall(ctx context.Context, method string, args []xmlrpc.Value) (*xmlrpc.Response, error) {
	c.mu.Lock()
	if c.state != Connected {
		st := c.state
		c.mu.Unlock()
		return nil, &NotConnectedError{State: st}
	}
	conn := c.conn
	pend := c.pend
	c.mu.Unlock()

	// A collision with a still-outstanding handle is re-allocated rather
	// than surfaced as a call failure: the allocator wrapping around a
	// long-lived connection is expected to eventually catch up with itself.
	var h uint32
	var slot *pending.Slot
	for {
		h = c.handles.Next()
		var err error
		slot, err = pend.Register(h)
		if err == pending.ErrDuplicateHandle {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "gbxremote: register call")
		}
		break
	}

	body := xmlrpc.EncodeCall(method, args)

	c.writeMu.Lock()
	writeErr := frame.WriteFrame(conn, h, body)
	c.writeMu.Unlock()
	if writeErr != nil {
		pend.Cancel(h)
		return nil, errors.Wrap(writeErr, "gbxremote: write call")
	}

	payload, err := slot.Await(ctx)
	if err != nil {
		pend.Cancel(h)
		return nil, err
	}

	dec := &xmlrpc.Decoder{}
	resp, err := dec.DecodeResponse(payload)
	if err != nil {
		return nil, err
	}
	for _, w := range dec.Warnings {
		c.log.Debug("xmlrpc decode warning", zap.String("method", method), zap.String("warning", w))
	}
	return resp, nil
}

// SubscribeCallback registers a handler for server-initiated method calls.
// Handlers run in registration order inside a detached goroutine per
// callback frame; they never block the receive loop.
func (c *Client) SubscribeCallback(h CallbackHandler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.callbackHandlers = append(c.callbackHandlers, h)
}

// SubscribeConnected registers a handler run after a successful handshake.
func (c *Client) SubscribeConnected(h ConnectedHandler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.connectedHandlers = append(c.connectedHandlers, h)
}

// SubscribeDisconnected registers a handler run when the connection drops,
// whether by Disconnect or by a transport error.
func (c *Client) SubscribeDisconnected(h DisconnectedHandler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.disconnectedHandlers = append(c.disconnectedHandlers, h)
}

func (c *Client) fireConnected() {
	c.subMu.Lock()
	handlers := append([]ConnectedHandler(nil), c.connectedHandlers...)
	c.subMu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (c *Client) fireDisconnected(err error) {
	c.subMu.Lock()
	handlers := append([]DisconnectedHandler(nil), c.disconnectedHandlers...)
	c.subMu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}
