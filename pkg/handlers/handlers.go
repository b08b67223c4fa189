package handlers

import (
	"github.com/theapemachine/synapse/pkg/auth"
	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/errors"
	"github.com/theapemachine/synapse/pkg/registry"
	"github.com/theapemachine/synapse/pkg/stores"
	"github.com/theapemachine/synapse/pkg/vault"
)

/*
Config carries the dependencies the built-in method set runs against.
*/
type Config struct {
	Repository stores.Repository
	Registry   *registry.Registry
	Verifier   *auth.Verifier
	Vault      *vault.Vault
}

/*
RegisterAll wires the built-in method set onto the dispatcher: the handshake
methods, application management, and permission management.
*/
func RegisterAll(dispatcher *dispatch.Dispatcher, config Config) error {
	switch {
	case config.Repository == nil:
		return errors.ErrMissingRepository
	case config.Registry == nil:
		return errors.ErrMissingRegistry
	case config.Verifier == nil:
		return errors.ErrMissingVerifier
	case config.Vault == nil:
		return errors.ErrMissingVault
	}

	registerConnectionHandlers(dispatcher, config)
	registerApplicationHandlers(dispatcher, config)
	registerPermissionHandlers(dispatcher, config)
	return nil
}
