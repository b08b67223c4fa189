package rpc

import "fmt"

/*
Action classifies a payload for the permission model. Direction is from the
hub's perspective: OUTBOUND gates what the hub may forward to a recipient,
INBOUND gates what the hub may emit on behalf of a sender.
*/
type Action string

const (
	ActionInboundDispatch      Action = "inbound_dispatch"
	ActionInboundRequest       Action = "inbound_request"
	ActionInboundResponse      Action = "inbound_response"
	ActionInboundNotification  Action = "inbound_notification"
	ActionOutboundDispatch     Action = "outbound_dispatch"
	ActionOutboundRequest      Action = "outbound_request"
	ActionOutboundResponse     Action = "outbound_response"
	ActionOutboundNotification Action = "outbound_notification"
)

// The DISPATCH pair is reserved: permissions may carry it, but no emission
// site consults it.
var actions = map[Action]struct{}{
	ActionInboundDispatch:      {},
	ActionInboundRequest:       {},
	ActionInboundResponse:      {},
	ActionInboundNotification:  {},
	ActionOutboundDispatch:     {},
	ActionOutboundRequest:      {},
	ActionOutboundResponse:     {},
	ActionOutboundNotification: {},
}

/*
ParseAction converts a wire string into an Action, rejecting anything outside
the closed enumeration.
*/
func ParseAction(s string) (Action, error) {
	action := Action(s)

	if !action.Valid() {
		return "", fmt.Errorf("invalid action: %s", s)
	}

	return action, nil
}

// Valid reports whether the action is a member of the enumeration.
func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

func (a Action) String() string {
	return string(a)
}

// Actions returns the full enumeration in a stable order.
func Actions() []Action {
	return []Action{
		ActionInboundDispatch,
		ActionInboundRequest,
		ActionInboundResponse,
		ActionInboundNotification,
		ActionOutboundDispatch,
		ActionOutboundRequest,
		ActionOutboundResponse,
		ActionOutboundNotification,
	}
}
