package hub

import (
	"context"
	"io"
	"net"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/observability"
	"github.com/theapemachine/synapse/pkg/rpc"
)

/*
ServeConn runs the session state machine for one accepted stream:

	ACCEPT -> HANDSHAKE -> RUNNING -> CLOSED
	               |
	               +-> CLOSED   (on handshake failure)

The call returns once the session reaches CLOSED; teardown unbinds the
writer from the registry and closes it.
*/
func (hub *Hub) ServeConn(ctx context.Context, conn net.Conn) {
	hub.observer.SessionOpened()
	log.Info("session accepted", "remote_addr", conn.RemoteAddr())

	reason := observability.CloseReasonHandshakeFailed

	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error(
				"session panicked",
				"remote_addr", conn.RemoteAddr(), "panic", recovered,
			)
		}

		hub.registry.RemoveByWriter(conn)
		_ = conn.Close()
		hub.observer.SessionClosed(reason)
		log.Info("session closed", "remote_addr", conn.RemoteAddr(), "reason", reason)
	}()

	if hub.limiter != nil && !hub.limiter.Allow(remoteHost(conn)) {
		log.Warn("handshake throttled", "remote_addr", conn.RemoteAddr())
		reason = observability.CloseReasonThrottled
		return
	}

	if !hub.handshake(ctx, conn) {
		if ctx.Err() != nil {
			reason = observability.CloseReasonShutdown
		}

		return
	}

	reason = hub.running(ctx, conn)
}

// remoteHost keys throttling by source host so one address cannot dodge the
// limiter by cycling ports.
func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()

	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}

	return addr
}

/*
handshake reads exactly one frame, which must be a Request for connect or
register. Anything else is logged and the session closes without a response.
A handler refusal is answered on this writer alone, never through the
authorized set; a successful handshake is announced to the admin set.
*/
func (hub *Hub) handshake(ctx context.Context, conn net.Conn) bool {
	frame, err := rpc.ReadFrame(conn, hub.maxFrameBytes)

	if err != nil {
		if err != io.EOF {
			log.Warn("handshake read failed", "remote_addr", conn.RemoteAddr(), "error", err)
		}

		hub.observer.Handshake(
			observability.HandshakeResultFail, observability.HandshakeReasonReadError,
		)

		return false
	}

	payload, rpcErr := rpc.DecodePayload(frame)

	if rpcErr != nil {
		log.Warn(
			"handshake frame rejected",
			"remote_addr", conn.RemoteAddr(), "code", rpcErr.Code,
		)

		hub.observer.Handshake(
			observability.HandshakeResultFail, observability.HandshakeReasonNotRequest,
		)

		return false
	}

	request, ok := payload.(*rpc.Request)

	if !ok {
		log.Warn("handshake requires a request", "remote_addr", conn.RemoteAddr())
		hub.observer.Handshake(
			observability.HandshakeResultFail, observability.HandshakeReasonNotRequest,
		)

		return false
	}

	if request.Method != "connect" && request.Method != "register" {
		log.Warn(
			"handshake method rejected",
			"remote_addr", conn.RemoteAddr(), "method", request.Method,
		)

		hub.observer.Handshake(
			observability.HandshakeResultFail, observability.HandshakeReasonWrongMethod,
		)

		return false
	}

	response := hub.dispatcher.Dispatch(dispatch.WithWriter(ctx, conn), request)

	if response.Error != nil {
		if err := rpc.WriteFrame(conn, response, hub.maxFrameBytes); err != nil {
			log.Warn(
				"failed to answer refused handshake",
				"remote_addr", conn.RemoteAddr(), "error", err,
			)
		}

		hub.observer.Handshake(
			observability.HandshakeResultFail, observability.HandshakeReasonHandlerError,
		)

		return false
	}

	if hub.registry.FindByWriter(conn) == nil {
		log.Warn("handshake succeeded without binding the writer", "remote_addr", conn.RemoteAddr())
		hub.observer.Handshake(
			observability.HandshakeResultFail, observability.HandshakeReasonUnbound,
		)

		return false
	}

	hub.emitTo(ctx, response, nil, rpc.ActionOutboundResponse)
	hub.observer.Handshake(observability.HandshakeResultOK, observability.HandshakeReasonOK)
	return true
}

/*
running reads frames until the stream ends. Decode failures are answered
in-band with an id-null error Response and the session continues; only
header-level failures end it. The writer's binding is re-resolved from the
registry on every frame, so an administrative unbind or a re-handshake takes
effect immediately.
*/
func (hub *Hub) running(ctx context.Context, conn net.Conn) observability.CloseReason {
	for {
		frame, err := rpc.ReadFrame(conn, hub.maxFrameBytes)

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return observability.CloseReasonShutdown
			case err == io.EOF:
				return observability.CloseReasonPeerClosed
			case err == rpc.ErrFrameTooLarge:
				log.Warn("frame exceeds maximum size", "remote_addr", conn.RemoteAddr())
				return observability.CloseReasonFrameTooLarge
			default:
				log.Warn("session read failed", "remote_addr", conn.RemoteAddr(), "error", err)
				return observability.CloseReasonIncompleteFrame
			}
		}

		connection := hub.registry.FindByWriter(conn)

		if connection == nil {
			log.Warn("writer is no longer bound", "remote_addr", conn.RemoteAddr())
			return observability.CloseReasonUnbound
		}

		appID := connection.ID
		payload, rpcErr := rpc.DecodePayload(frame)

		if rpcErr != nil {
			hub.observer.ProtocolError(rpcErr.Code)
			hub.emitTo(ctx, rpc.NewErrorResponse(nil, rpcErr), &appID, rpc.ActionInboundResponse)
			continue
		}

		hub.route(ctx, conn, appID, payload)
	}
}

/*
route applies the fan-out table to one well-formed payload. The payload is
emitted in the shape it arrived; dispatch responses are collected into a
batch that flattens back to a scalar when it holds a single element.
*/
func (hub *Hub) route(ctx context.Context, conn net.Conn, appID string, payload rpc.Payload) {
	batch := rpc.Normalize(payload)

	switch {
	case batch.AllResponses():
		hub.emitTo(ctx, payload, &appID, rpc.ActionOutboundResponse)

	case batch.AllNotifications():
		// Decode typing keeps Requests out of notification payloads, so
		// there is nothing to dispatch on this row.
		hub.emitTo(ctx, payload, &appID, rpc.ActionOutboundNotification)

	case batch.AllRequests():
		hub.emitTo(ctx, payload, &appID, rpc.ActionOutboundRequest)

		responses := make(rpc.Batch, 0, len(batch))

		for _, element := range batch {
			request := element.(*rpc.Request)
			response := hub.dispatcher.Dispatch(dispatch.WithWriter(ctx, conn), request)

			hub.observer.Dispatch(request.Method, dispatchResult(response))
			responses = append(responses, response)
		}

		hub.emitTo(ctx, responses.Flatten(), &appID, rpc.ActionInboundResponse)
	}
}

func dispatchResult(response *rpc.Response) observability.DispatchResult {
	switch {
	case response.Error == nil:
		return observability.DispatchResultOK
	case response.Error.Code == -32601:
		return observability.DispatchResultNotFound
	default:
		return observability.DispatchResultRPCError
	}
}
