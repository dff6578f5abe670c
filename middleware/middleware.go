// Package middleware provides cross-cutting wrappers around a Client's
// outgoing Call. A GameBox client has no inbound request pipeline of its
// own to wrap, only the calls it issues.
package middleware

import (
	"context"

	"gbxremote/xmlrpc"
)

// Invoker matches client.Client.Call's signature, with the variadic args
// taken as a slice, letting middleware wrap
// it without importing the client package (which would create an import
// cycle: client wires up the middleware chain around itself).
type Invoker func(ctx context.Context, method string, args []xmlrpc.Value) (*xmlrpc.Response, error)

// Middleware wraps an Invoker with additional behavior.
type Middleware func(next Invoker) Invoker

// Chain composes middlewares into one, applied in the order given: the
// first middleware's "before" logic runs first and its "after" logic runs
// last, an onion model around the innermost Invoker.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Invoker) Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
