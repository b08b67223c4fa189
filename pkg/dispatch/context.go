package dispatch

import (
	"context"
	"net"
)

type contextKey string

const writerKey contextKey = "writer"

/*
WithWriter attaches the caller's stream to the context a handler runs
under. Identity is always derived from that stream via the connection
registry, never from anything inside the payload.
*/
func WithWriter(ctx context.Context, conn net.Conn) context.Context {
	return context.WithValue(ctx, writerKey, conn)
}

/*
WriterFrom returns the caller's stream, or nil when the handler was invoked
outside a session.
*/
func WriterFrom(ctx context.Context) net.Conn {
	conn, _ := ctx.Value(writerKey).(net.Conn)
	return conn
}
