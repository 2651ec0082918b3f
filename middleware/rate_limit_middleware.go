package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/tixel/tryorama/rpcerr"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			if !limiter.Allow() {
				return nil, rpcerr.New(rpcerr.KindRateLimited, nil, "rate limit exceeded for %s", call.Addr)
			}
			return next(ctx, call)
		}
	}
}
