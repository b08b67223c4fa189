package handlers

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/errors"
	"github.com/theapemachine/synapse/pkg/rpc"
	"github.com/theapemachine/synapse/pkg/stores"
)

func registerPermissionHandlers(dispatcher *dispatch.Dispatcher, config Config) {
	dispatcher.Register("grant_permission", grantPermissionHandler(config))
	dispatcher.Register("revoke_permission", revokePermissionHandler(config))
	dispatcher.Register("check_has_permission", checkHasPermissionHandler(config))
	dispatcher.Register("get_permissions_for_owner", permissionsForHandler(config, "owner_id"))
	dispatcher.Register("get_permissions_for_target", permissionsForHandler(config, "target_id"))
}

func grantPermissionHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		ownerID, targetID, action, rpcErr := permissionTriple(params)

		if rpcErr != nil {
			return nil, rpcErr
		}

		perm := config.Repository.GrantPermission(ctx, ownerID, targetID, action)

		if perm == nil {
			return nil, errors.ErrPermissionGrantFailed
		}

		log.Info(
			"permission granted",
			"owner_id", ownerID, "target_id", targetID, "action", action,
		)

		return perm, nil
	}
}

/*
revokePermissionHandler removes a permission, addressed either by its id or
by the full (owner, target, action) triple.
*/
func revokePermissionHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		if _, ok := params["permission_id"]; ok {
			permissionID, rpcErr := dispatch.StringParam(params, "permission_id")

			if rpcErr != nil {
				return nil, rpcErr
			}

			if !config.Repository.RevokePermissionByID(ctx, permissionID) {
				return nil, errors.ErrPermissionRevokeFailed
			}

			return map[string]any{"success": true}, nil
		}

		ownerID, targetID, action, rpcErr := permissionTriple(params)

		if rpcErr != nil {
			return nil, rpcErr
		}

		if !config.Repository.RevokePermission(ctx, ownerID, targetID, action) {
			return nil, errors.ErrPermissionRevokeFailed
		}

		log.Info(
			"permission revoked",
			"owner_id", ownerID, "target_id", targetID, "action", action,
		)

		return map[string]any{"success": true}, nil
	}
}

func checkHasPermissionHandler(config Config) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		ownerID, targetID, action, rpcErr := permissionTriple(params)

		if rpcErr != nil {
			return nil, rpcErr
		}

		activeOnly, rpcErr := dispatch.OptionalBoolParam(params, "active_only", true)

		if rpcErr != nil {
			return nil, rpcErr
		}

		perms := config.Repository.FindPermissions(ctx, stores.PermissionQuery{
			OwnerID:    ownerID,
			TargetID:   targetID,
			Action:     action,
			ActiveOnly: activeOnly,
		})

		return map[string]any{"has_permission": len(perms) > 0}, nil
	}
}

func permissionsForHandler(config Config, key string) dispatch.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, *errors.RpcError) {
		id, rpcErr := dispatch.StringParam(params, key)

		if rpcErr != nil {
			return nil, rpcErr
		}

		activeOnly, rpcErr := dispatch.OptionalBoolParam(params, "active_only", true)

		if rpcErr != nil {
			return nil, rpcErr
		}

		query := stores.PermissionQuery{ActiveOnly: activeOnly}

		if key == "owner_id" {
			query.OwnerID = id
		} else {
			query.TargetID = id
		}

		perms := config.Repository.FindPermissions(ctx, query)

		if perms == nil {
			perms = []*stores.Permission{}
		}

		return perms, nil
	}
}

func permissionTriple(params map[string]any) (string, string, rpc.Action, *errors.RpcError) {
	ownerID, rpcErr := dispatch.StringParam(params, "owner_id")

	if rpcErr != nil {
		return "", "", "", rpcErr
	}

	targetID, rpcErr := dispatch.StringParam(params, "target_id")

	if rpcErr != nil {
		return "", "", "", rpcErr
	}

	raw, rpcErr := dispatch.StringParam(params, "action")

	if rpcErr != nil {
		return "", "", "", rpcErr
	}

	action, err := rpc.ParseAction(raw)

	if err != nil {
		return "", "", "", errors.ErrInvalidAction.WithMessagef("Invalid action: %s", raw)
	}

	return ownerID, targetID, action, nil
}
