// Package auth resolves client-supplied tokens to local user ids via
// pluggable identity providers.
package auth

// Provider verifies an opaque token and resolves it to a local user id.
//
// Authenticate is called on the chat loop. Implementations that need
// network I/O must do it off-loop and deliver the result by posting the
// continuation back; exactly one of success or failure runs, on the
// chat loop, for every call.
type Provider interface {
	ID() string
	Authenticate(token string, success func(userID int64), failure func())
}

// Registry is the flat list of identity providers, searched by id.
type Registry struct {
	providers []Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Lookup finds a provider by its id.
func (r *Registry) Lookup(id string) (Provider, bool) {
	for _, p := range r.providers {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}
