// Package middleware wraps a ports.StateStore with at-rest protections
// for conversation checkpoints.
package middleware

import "github.com/aretw0/threadline/pkg/ports"

// Middleware allows wrapping a StateStore to add behavior.
type Middleware func(ports.StateStore) ports.StateStore

// Wrap applies middlewares to store. The first middleware is outermost.
func Wrap(store ports.StateStore, mws ...Middleware) ports.StateStore {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			store = mws[i](store)
		}
	}
	return store
}
