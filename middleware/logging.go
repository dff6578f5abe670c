package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gbxremote/xmlrpc"
)

// Logging logs every outgoing call's method, duration, and outcome through
// the client's injected zap logger.
func Logging(log *zap.Logger) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, method string, args []xmlrpc.Value) (*xmlrpc.Response, error) {
			start := time.Now()
			resp, err := next(ctx, method, args)
			duration := time.Since(start)

			fields := []zap.Field{
				zap.String("method", method),
				zap.Duration("duration", duration),
			}
			if err != nil {
				log.Error("call failed", append(fields, zap.Error(err))...)
			} else if resp.IsFault() {
				log.Warn("call returned fault", append(fields, zap.Int32("fault_code", resp.Fault.Code), zap.String("fault_message", resp.Fault.Message))...)
			} else {
				log.Debug("call completed", fields...)
			}
			return resp, err
		}
	}
}
