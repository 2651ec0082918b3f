// Package middleware wraps outbound conductor calls.
//
// The relay sends every call, one-shot or through an app session, through a
// HandlerFunc. Middlewares compose around it in the onion model:
//
//	Chain(A, B, C)(h) → A(B(C(h)))
package middleware

import "context"

// Call describes one outbound conductor call.
type Call struct {
	Addr    string // Conductor URL the call goes to
	Payload []byte // Opaque request payload
}

type HandlerFunc func(ctx context.Context, call *Call) ([]byte, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
