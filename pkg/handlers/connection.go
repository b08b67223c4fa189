package handlers

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/errors"
)

func registerConnectionHandlers(dispatcher *dispatch.Dispatcher, config Config) {
	connect := connectHandler(config)

	dispatcher.Register("connect", connect)
	dispatcher.Register("register", connect)
}

/*
connectHandler authenticates the handshake. The caller names the application
it claims to be and presents a JWT minted for it; when the token verifies
against that claim and the application is active, the caller's writer is
bound to it in the connection registry.
*/
func connectHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		id, rpcErr := dispatch.StringParam(params, "id")

		if rpcErr != nil {
			return nil, rpcErr
		}

		token, rpcErr := dispatch.StringParam(params, "authentication_token")

		if rpcErr != nil {
			return nil, rpcErr
		}

		claims, err := config.Verifier.Verify(token)

		if err != nil {
			log.Warn("handshake token rejected", "app_id", id, "error", err)
			return nil, errors.ErrInternal.WithMessagef("Authentication token is invalid or expired")
		}

		// A valid token for some other application is still not a credential
		// for the id the caller claims.
		if claims.Subject != id {
			log.Warn(
				"handshake token subject mismatch",
				"app_id", id, "subject", claims.Subject,
			)

			return nil, errors.ErrInternal.WithMessagef("Authentication token is invalid or expired")
		}

		app := config.Repository.FindApplicationByID(ctx, id)

		if app == nil {
			return nil, errors.ErrApplicationNotFound
		}

		if !app.IsActive {
			return nil, errors.ErrApplicationNotActive
		}

		writer := dispatch.WriterFrom(ctx)

		if writer == nil {
			return nil, errors.ErrInternal.WithMessagef("Connection is not available")
		}

		connection := config.Registry.Add(app.ID, claims, writer)

		log.Info(
			"application connected",
			"app_id", app.ID, "name", app.Name, "remote_addr", connection.RemoteAddr,
		)

		return map[string]any{
			"connection_id": app.ID,
			"message":       "Application connected successfully",
		}, nil
	}
}
