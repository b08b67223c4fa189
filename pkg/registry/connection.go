package registry

import (
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/auth"
)

/*
Connection binds a live writer to the application that authenticated it.
Outbound frames are queued on a bounded outbox and written by a single pump
goroutine, which keeps per-writer FIFO order and keeps slow readers from
blocking the sessions that emit to them.
*/
type Connection struct {
	ID          string
	Claims      *auth.Claims
	RemoteAddr  string
	ConnectedAt time.Time

	conn     net.Conn
	outbox   chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func newConnection(
	id string, claims *auth.Claims, conn net.Conn, outboxSize int,
) *Connection {
	connection := &Connection{
		ID:          id,
		Claims:      claims,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		outbox:      make(chan []byte, outboxSize),
		done:        make(chan struct{}),
	}

	go connection.pump()
	return connection
}

/*
Writer exposes the underlying stream so callers can match a Connection back
to the session that owns it.
*/
func (connection *Connection) Writer() net.Conn {
	return connection.conn
}

/*
Send queues an encoded frame for delivery. It never blocks: a full outbox or
a stopped connection drops the frame and reports false.
*/
func (connection *Connection) Send(frame []byte) bool {
	select {
	case <-connection.done:
		return false
	default:
	}

	select {
	case connection.outbox <- frame:
		return true
	case <-connection.done:
		return false
	default:
		return false
	}
}

// stop halts the pump without touching the writer, which may be about to be
// rebound to another application.
func (connection *Connection) stop() {
	connection.stopOnce.Do(func() { close(connection.done) })
}

/*
Close halts the pump and closes the writer. Used when the stream itself is
done for, never on a rebind.
*/
func (connection *Connection) Close() {
	connection.stop()
	_ = connection.conn.Close()
}

func (connection *Connection) pump() {
	for {
		select {
		case <-connection.done:
			return
		case frame := <-connection.outbox:
			if _, err := connection.conn.Write(frame); err != nil {
				log.Debug(
					"write failed, closing connection",
					"app_id", connection.ID, "remote_addr", connection.RemoteAddr, "error", err,
				)

				connection.Close()
				return
			}
		}
	}
}
