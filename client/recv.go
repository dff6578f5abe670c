package client

import (
	"net"

	"go.uber.org/zap"

	"gbxremote/frame"
	"gbxremote/pending"
	"gbxremote/xmlrpc"
)

const responseBit = 0x80000000

// recvLoop is the single reader goroutine for conn. It routes handles with
// the high bit set to the pending table and fans callback frames out to
// subscribers. On any read error it runs the disconnect path and returns.
func (c *Client) recvLoop(conn net.Conn, pend *pending.Table, done chan struct{}) {
	defer close(done)

	var loopErr error
	for {
		h, body, err := frame.ReadFrame(conn, c.maxBody)
		if err != nil {
			loopErr = err
			break
		}

		if h&responseBit != 0 {
			if !pend.Complete(h, body) {
				c.log.Debug("stale reply dropped", zap.Uint32("handle", h))
			}
			continue
		}

		c.dispatchCallback(body)
	}

	transportErr := &DisconnectedError{Cause: loopErr}
	pend.CloseAll(transportErr)
	conn.Close()

	c.mu.Lock()
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()

	c.log.Info("disconnected", zap.Error(loopErr))
	c.fireDisconnected(transportErr)
}

// dispatchCallback decodes a server-initiated method call and runs every
// subscribed handler, in registration order, inside one detached goroutine
// so the receive loop never blocks on a handler.
func (c *Client) dispatchCallback(body []byte) {
	dec := &xmlrpc.Decoder{}
	call, err := dec.DecodeCall(body)
	if err != nil {
		c.log.Warn("callback decode failed", zap.Error(err))
		return
	}
	for _, w := range dec.Warnings {
		c.log.Debug("xmlrpc decode warning", zap.String("method", call.Name), zap.String("warning", w))
	}

	c.subMu.Lock()
	handlers := append([]CallbackHandler(nil), c.callbackHandlers...)
	c.subMu.Unlock()

	go func() {
		for _, h := range handlers {
			c.runCallback(h, call)
		}
	}()
}

func (c *Client) runCallback(h CallbackHandler, call *xmlrpc.MethodCall) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("callback handler panicked", zap.Any("recover", r), zap.String("method", call.Name))
		}
	}()
	h(call.Name, call.Params)
}
