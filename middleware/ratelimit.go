package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"gbxremote/xmlrpc"
)

// RateLimit throttles outgoing calls to r per second with burst capacity
// burst, using a token bucket over the client's own outbound traffic —
// useful for a scripted bot that would otherwise hammer a GameBox server
// with calls faster than it wants to process them.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Invoker) Invoker {
		return func(ctx context.Context, method string, args []xmlrpc.Value) (*xmlrpc.Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return next(ctx, method, args)
		}
	}
}
