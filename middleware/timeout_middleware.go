package middleware

import (
	"context"
	"time"

	"github.com/tixel/tryorama/rpcerr"
)

// TimeOutMiddleware bounds how long a caller waits for the conductor.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				reply []byte
				err   error
			}
			done := make(chan outcome, 1)
			go func() {
				reply, err := next(ctx, call)
				done <- outcome{reply, err}
			}()

			select {
			case o := <-done:
				return o.reply, o.err
			case <-ctx.Done():
				return nil, rpcerr.New(rpcerr.KindTimeout, ctx.Err(), "conductor call to %s timed out after %s", call.Addr, timeout)
			}
		}
	}
}
