// Package middleware decorates session stores with cross-cutting behavior.
package middleware

import "github.com/aretw0/productflow/pkg/ports"

// Middleware allows wrapping a KeyValueStore to add behavior.
type Middleware func(ports.KeyValueStore) ports.KeyValueStore

// Chain applies the middlewares to store, the first one outermost.
func Chain(store ports.KeyValueStore, mws ...Middleware) ports.KeyValueStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
