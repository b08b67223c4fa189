package handlers

import (
	"context"
	"net/url"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/errors"
	"github.com/theapemachine/synapse/pkg/stores"
)

func registerApplicationHandlers(dispatcher *dispatch.Dispatcher, config Config) {
	dispatcher.Register("create_application", createApplicationHandler(config))
	dispatcher.Register("read_application", readApplicationHandler(config))
	dispatcher.Register("list_applications", listApplicationsHandler(config))
	dispatcher.Register("update_application", updateApplicationHandler(config))
	dispatcher.Register("delete_application", deleteApplicationHandler(config))
}

func createApplicationHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		appURL, rpcErr := dispatch.StringParam(params, "url")

		if rpcErr != nil {
			return nil, rpcErr
		}

		description, rpcErr := dispatch.StringParam(params, "description")

		if rpcErr != nil {
			return nil, rpcErr
		}

		name, rpcErr := dispatch.OptionalStringParam(params, "name", "")

		if rpcErr != nil {
			return nil, rpcErr
		}

		plaintext, rpcErr := dispatch.OptionalStringParam(params, "authentication_token", "")

		if rpcErr != nil {
			return nil, rpcErr
		}

		if !validApplicationURL(appURL) {
			return nil, errors.ErrApplicationCreateFailed
		}

		var token string

		if plaintext != "" {
			if token, rpcErr = encryptToken(config, plaintext); rpcErr != nil {
				return nil, rpcErr
			}
		}

		app := config.Repository.CreateApplication(ctx, &stores.Application{
			Name:                name,
			URL:                 appURL,
			Description:         description,
			AuthenticationToken: token,
			IsActive:            true,
		})

		if app == nil {
			return nil, errors.ErrApplicationCreateFailed
		}

		log.Info("application created", "app_id", app.ID, "name", app.Name)
		return app, nil
	}
}

func readApplicationHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		id, rpcErr := dispatch.StringParam(params, "id")

		if rpcErr != nil {
			return nil, rpcErr
		}

		app := config.Repository.FindApplicationByID(ctx, id)

		if app == nil {
			return nil, errors.ErrApplicationNotFound
		}

		return app, nil
	}
}

func listApplicationsHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		activeOnly, rpcErr := dispatch.OptionalBoolParam(params, "active_only", false)

		if rpcErr != nil {
			return nil, rpcErr
		}

		sortBy, rpcErr := dispatch.OptionalStringParam(params, "sort_by", "")

		if rpcErr != nil {
			return nil, rpcErr
		}

		skip, rpcErr := dispatch.OptionalIntParam(params, "skip", 0)

		if rpcErr != nil {
			return nil, rpcErr
		}

		limit, rpcErr := dispatch.OptionalIntParam(params, "limit", 0)

		if rpcErr != nil {
			return nil, rpcErr
		}

		apps := config.Repository.FindApplications(ctx, stores.ApplicationQuery{
			ActiveOnly: activeOnly,
			SortBy:     sortBy,
			Skip:       skip,
			Limit:      limit,
		})

		if apps == nil {
			apps = []*stores.Application{}
		}

		return apps, nil
	}
}

func updateApplicationHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		id, rpcErr := dispatch.StringParam(params, "id")

		if rpcErr != nil {
			return nil, rpcErr
		}

		updates, rpcErr := dispatch.ObjectParam(params, "updates")

		if rpcErr != nil {
			return nil, rpcErr
		}

		if value, ok := updates["authentication_token"]; ok && value != nil {
			plaintext, ok := value.(string)

			if !ok {
				return nil, errors.ErrInvalidParams.WithData(
					"parameter 'authentication_token' must be a string",
				)
			}

			token, rpcErr := encryptToken(config, plaintext)

			if rpcErr != nil {
				return nil, rpcErr
			}

			updates["authentication_token"] = token
		}

		app := config.Repository.UpdateApplication(ctx, id, updates)

		if app == nil {
			return nil, errors.ErrApplicationUpdateFailed
		}

		return app, nil
	}
}

func deleteApplicationHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		id, rpcErr := dispatch.StringParam(params, "id")

		if rpcErr != nil {
			return nil, rpcErr
		}

		if !config.Repository.DeleteApplication(ctx, id) {
			return nil, errors.ErrApplicationDeleteFailed
		}

		log.Info("application deleted", "app_id", id)
		return map[string]any{"success": true}, nil
	}
}

// encryptToken stores handshake tokens encrypted, leaving values that are
// already ciphertexts of the active key untouched.
func encryptToken(config Config, token string) (string, *errors.RpcError) {
	if config.Vault.IsEncrypted(token) {
		return token, nil
	}

	encrypted, err := config.Vault.Encrypt(token)

	if err != nil {
		log.Error("failed to encrypt authentication token", "error", err)
		return "", errors.ErrInternal.WithMessagef("Failed to encrypt authentication token")
	}

	return encrypted, nil
}

func validApplicationURL(raw string) bool {
	parsed, err := url.Parse(raw)

	if err != nil {
		return false
	}

	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
