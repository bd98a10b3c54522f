// Package middleware provides the HTTP middleware chain for the gateway:
// authentication, rate limiting, request identification and logging.
package middleware

import "net/http"

// Middleware wraps an http.Handler with additional logic.
type Middleware func(http.Handler) http.Handler

// Chain holds an ordered list of middleware.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use appends middleware to the chain.
func (c *Chain) Use(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Wrap wraps a handler so the first middleware added runs first.
func (c *Chain) Wrap(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapped = c.middlewares[i](wrapped)
	}
	return wrapped
}
