package hub

import (
	"github.com/theapemachine/synapse/pkg/auth"
	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/errors"
	"github.com/theapemachine/synapse/pkg/observability"
	"github.com/theapemachine/synapse/pkg/registry"
	"github.com/theapemachine/synapse/pkg/rpc"
	"github.com/theapemachine/synapse/pkg/stores"
)

/*
Config carries the collaborators a Hub brokers between. Observer,
MaxFrameBytes, and Limiter are optional; everything else is required. When a
Limiter is present, handshakes are throttled per remote host.
*/
type Config struct {
	Repository    stores.Repository
	Registry      *registry.Registry
	Dispatcher    *dispatch.Dispatcher
	Observer      observability.HubObserver
	Limiter       *auth.RateLimiter
	MaxFrameBytes int
}

/*
Hub brokers length-prefixed JSON-RPC payloads between authenticated
applications. Every payload an application sends is fanned out to the writers
its permissions authorize, and requests are additionally dispatched against
the built-in method set.
*/
type Hub struct {
	repository    stores.Repository
	registry      *registry.Registry
	dispatcher    *dispatch.Dispatcher
	observer      observability.HubObserver
	limiter       *auth.RateLimiter
	maxFrameBytes int
}

func New(config Config) (*Hub, error) {
	switch {
	case config.Repository == nil:
		return nil, errors.ErrMissingRepository
	case config.Registry == nil:
		return nil, errors.ErrMissingRegistry
	case config.Dispatcher == nil:
		return nil, errors.ErrMissingDispatcher
	}

	observer := config.Observer

	if observer == nil {
		observer = observability.NoopHubObserver
	}

	maxFrameBytes := config.MaxFrameBytes

	if maxFrameBytes <= 0 {
		maxFrameBytes = rpc.DefaultMaxFrameBytes
	}

	return &Hub{
		repository:    config.Repository,
		registry:      config.Registry,
		dispatcher:    config.Dispatcher,
		observer:      observer,
		limiter:       config.Limiter,
		maxFrameBytes: maxFrameBytes,
	}, nil
}

// Registry exposes the connection registry for administrative callers.
func (hub *Hub) Registry() *registry.Registry {
	return hub.registry
}
