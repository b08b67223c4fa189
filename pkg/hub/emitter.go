package hub

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/registry"
	"github.com/theapemachine/synapse/pkg/rpc"
)

/*
emit encodes the payload once and hands the frame to every writer's outbox.
Delivery is best-effort: a full or closed outbox drops the frame for that
writer and the loop continues, so one failing recipient never starves the
rest. The emitter never tears writers down; the session owning a dead writer
handles its own teardown.
*/
func (hub *Hub) emit(
	payload rpc.Payload, writers []*registry.Connection,
) (delivered, dropped int) {
	if len(writers) == 0 {
		return 0, 0
	}

	frame, err := rpc.EncodeFrame(payload, hub.maxFrameBytes)

	if err != nil {
		log.Error("failed to encode outbound frame", "error", err)
		return 0, len(writers)
	}

	for _, connection := range writers {
		if connection.Send(frame) {
			delivered++
			continue
		}

		dropped++
		log.Warn(
			"dropped outbound frame",
			"app_id", connection.ID, "remote_addr", connection.RemoteAddr,
		)
	}

	return delivered, dropped
}

// emitTo fans a payload out to the authorized set for (targetID, action).
func (hub *Hub) emitTo(
	ctx context.Context, payload rpc.Payload, targetID *string, action rpc.Action,
) {
	writers := hub.AuthorizedWriters(ctx, targetID, action)
	delivered, dropped := hub.emit(payload, writers)

	hub.observer.Emitted(action, delivered, dropped)
	log.Debug(
		"emitted payload",
		"action", action, "recipients", len(writers),
		"delivered", delivered, "dropped", dropped,
	)
}
