package stores

import (
	"github.com/theapemachine/synapse/pkg/rpc"
)

/*
Application is a persisted identity that may connect to the hub. The
authentication token is stored encrypted and never serialized outward.
*/
type Application struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	URL                 string `json:"url"`
	Description         string `json:"description"`
	AuthenticationToken string `json:"-"`
	IsActive            bool   `json:"is_active"`
	IsAdmin             bool   `json:"is_admin"`
}

/*
Permission is a directional authorization triple: owner may perform action on
payloads bound to target. The triple is unique and owner never equals target.
*/
type Permission struct {
	ID       string     `json:"id"`
	OwnerID  string     `json:"owner_id"`
	TargetID string     `json:"target_id"`
	Action   rpc.Action `json:"action"`
	IsActive bool       `json:"is_active"`
}
