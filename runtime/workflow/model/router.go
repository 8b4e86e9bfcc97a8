package model

import "context"

// Router is a Client that fans requests out to per-provider clients using
// Request.Provider. It lets a single workflow mix providers: each node's
// request reaches the adapter registered for its provider.
type Router struct {
	clients  map[string]Client
	fallback Client
}

// NewRouter builds a Router over the given provider map. fallback serves
// requests whose provider has no entry; a nil fallback makes such requests
// fail with a configuration error.
func NewRouter(clients map[string]Client, fallback Client) *Router {
	m := make(map[string]Client, len(clients))
	for p, c := range clients {
		m[p] = c
	}
	return &Router{clients: m, fallback: fallback}
}

// Complete dispatches the request to the client registered for its provider.
func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	if c, ok := r.clients[req.Provider]; ok {
		return c.Complete(ctx, req)
	}
	if r.fallback != nil {
		return r.fallback.Complete(ctx, req)
	}
	provider := req.Provider
	if provider == "" {
		provider = "unknown"
	}
	return Response{}, NewError(provider, "route", 0, KindConfiguration,
		"no client registered for provider "+provider, nil)
}
