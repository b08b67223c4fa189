package hub

import (
	"context"

	"github.com/theapemachine/synapse/pkg/registry"
	"github.com/theapemachine/synapse/pkg/rpc"
)

/*
AuthorizedAppIDs resolves which applications may observe a payload classified
by action and bound to targetID: the owners of an active permission on the
target, merged with every active admin. A nil target restricts the set to
admins. The target itself is never implicitly included; echo would require a
self-permission, which the grant invariants forbid.
*/
func (hub *Hub) AuthorizedAppIDs(
	ctx context.Context, targetID *string, action rpc.Action,
) map[string]struct{} {
	apps := hub.repository.FindAuthorizedApplications(ctx, targetID, action, true)
	ids := make(map[string]struct{}, len(apps))

	for _, app := range apps {
		ids[app.ID] = struct{}{}
	}

	return ids
}

/*
AuthorizedWriters maps each authorized application to every live writer
bound to it. Writers appear at most once: the registry binds a writer to a
single Connection at a time.
*/
func (hub *Hub) AuthorizedWriters(
	ctx context.Context, targetID *string, action rpc.Action,
) []*registry.Connection {
	var writers []*registry.Connection

	for id := range hub.AuthorizedAppIDs(ctx, targetID, action) {
		writers = append(writers, hub.registry.FindByID(id)...)
	}

	return writers
}
