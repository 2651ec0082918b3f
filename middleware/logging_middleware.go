package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tixel/tryorama/rpcerr"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	logger = logger.Named("call")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			start := time.Now()
			reply, err := next(ctx, call)
			fields := []zap.Field{
				zap.String("addr", call.Addr),
				zap.Int("request_bytes", len(call.Payload)),
				zap.Int("reply_bytes", len(reply)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, zap.String("kind", string(rpcerr.KindOf(err))), zap.Error(err))
				logger.Warn("conductor call failed", fields...)
				return reply, err
			}
			logger.Debug("conductor call", fields...)
			return reply, nil
		}
	}
}
