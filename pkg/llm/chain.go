// Package llm provides middleware, error classification and token budgeting
// around ports.Generator backends.
package llm

import (
	"github.com/aretw0/threadline/pkg/ports"
)

// Middleware wraps a Generator with additional behavior.
// Middlewares are composed using Chain() to create a processing pipeline.
type Middleware func(next ports.Generator) ports.Generator

// Chain composes middlewares around a base Generator.
// Middlewares are applied in order, with earlier middlewares being outermost.
//
// For example: Chain(gen, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> gen
func Chain(base ports.Generator, middlewares ...Middleware) ports.Generator {
	g := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			g = middlewares[i](g)
		}
	}
	return g
}
