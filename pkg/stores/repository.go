package stores

import (
	"context"

	"github.com/theapemachine/synapse/pkg/rpc"
)

/*
ApplicationQuery narrows and pages FindApplications. The zero value returns
every application in insertion order.
*/
type ApplicationQuery struct {
	ActiveOnly bool
	SortBy     string
	Skip       int
	Limit      int
}

/*
PermissionQuery narrows and pages FindPermissions. Empty string and empty
action fields match anything.
*/
type PermissionQuery struct {
	OwnerID    string
	TargetID   string
	Action     rpc.Action
	ActiveOnly bool
	SortBy     string
	Skip       int
	Limit      int
}

/*
Repository is the persistence boundary for applications and permissions.

Methods are best-effort: lookup failures, constraint violations, and backend
errors are logged by the implementation and surface as nil, empty, or false
return values. Callers translate those into protocol errors; they never see
the underlying cause.
*/
type Repository interface {
	CreateApplication(ctx context.Context, app *Application) *Application
	FindApplicationByID(ctx context.Context, id string) *Application
	FindApplications(ctx context.Context, query ApplicationQuery) []*Application
	UpdateApplication(ctx context.Context, id string, updates map[string]any) *Application
	DeleteApplication(ctx context.Context, id string) bool

	GrantPermission(ctx context.Context, ownerID, targetID string, action rpc.Action) *Permission
	RevokePermission(ctx context.Context, ownerID, targetID string, action rpc.Action) bool
	RevokePermissionByID(ctx context.Context, id string) bool
	FindPermissions(ctx context.Context, query PermissionQuery) []*Permission

	// FindAuthorizedApplications returns the applications holding an active
	// permission for action on targetID, merged with all active admins. A nil
	// targetID restricts the result to admins. With activeOnly set, inactive
	// permission owners are filtered out; admins are always required active.
	FindAuthorizedApplications(ctx context.Context, targetID *string, action rpc.Action, activeOnly bool) []*Application

	Close() error
}
