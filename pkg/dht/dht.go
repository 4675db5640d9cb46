package dht

import (
	"context"

	"github.com/hivemesh/hive/pkg/types"
)

// Resolver answers peer-discovery lookups for a service name.
//
// A resolver is an accelerator, never the source of truth: callers
// fall back to coordinator HTTP discovery when a lookup fails or
// returns nothing, and any resolver answer is re-verified against HTTP
// discovery on the next cache miss.
type Resolver interface {
	// Lookup returns candidate workers for the service, or an error
	// when the resolver is unavailable.
	Lookup(ctx context.Context, service string) ([]*types.Worker, error)

	// Connected reports whether the resolver is usable right now.
	Connected() bool
}
