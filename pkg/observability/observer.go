package observability

import (
	"github.com/theapemachine/synapse/pkg/rpc"
)

type CloseReason string

const (
	CloseReasonPeerClosed      CloseReason = "peer_closed"
	CloseReasonIncompleteFrame CloseReason = "incomplete_frame"
	CloseReasonFrameTooLarge   CloseReason = "frame_too_large"
	CloseReasonHandshakeFailed CloseReason = "handshake_failed"
	CloseReasonThrottled       CloseReason = "throttled"
	CloseReasonUnbound         CloseReason = "unbound"
	CloseReasonShutdown        CloseReason = "shutdown"
)

type HandshakeResult string

const (
	HandshakeResultOK   HandshakeResult = "ok"
	HandshakeResultFail HandshakeResult = "fail"
)

type HandshakeReason string

const (
	HandshakeReasonOK           HandshakeReason = "ok"
	HandshakeReasonReadError    HandshakeReason = "read_error"
	HandshakeReasonNotRequest   HandshakeReason = "not_request"
	HandshakeReasonWrongMethod  HandshakeReason = "wrong_method"
	HandshakeReasonHandlerError HandshakeReason = "handler_error"
	HandshakeReasonUnbound      HandshakeReason = "unbound"
)

type DispatchResult string

const (
	DispatchResultOK       DispatchResult = "ok"
	DispatchResultRPCError DispatchResult = "rpc_error"
	DispatchResultNotFound DispatchResult = "not_found"
)

// HubObserver receives hub-level metric events.
type HubObserver interface {
	SessionOpened()
	SessionClosed(reason CloseReason)
	Handshake(result HandshakeResult, reason HandshakeReason)
	Dispatch(method string, result DispatchResult)
	Emitted(action rpc.Action, delivered, dropped int)
	ProtocolError(code int)
}

type noopHubObserver struct{}

func (noopHubObserver) SessionOpened()                             {}
func (noopHubObserver) SessionClosed(CloseReason)                  {}
func (noopHubObserver) Handshake(HandshakeResult, HandshakeReason) {}
func (noopHubObserver) Dispatch(string, DispatchResult)            {}
func (noopHubObserver) Emitted(rpc.Action, int, int)               {}
func (noopHubObserver) ProtocolError(int)                          {}

// NoopHubObserver is a zero-cost observer used when metrics are disabled.
var NoopHubObserver HubObserver = noopHubObserver{}
