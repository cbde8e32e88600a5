package types

import "context"

// Authorizer is the top level interface for end use.
// It knows the permission catalog and which role holds which permissions.
type Authorizer interface {
	Registry
	Assignment

	// Allowed tells if the principal may perform the gated action
	Allowed(p Principal, id string) bool

	// Flush blocks until all accepted changes are written to the persister
	Flush(ctx context.Context) error
}
