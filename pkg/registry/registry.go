package registry

import (
	"net"
	"sort"
	"sync"

	"github.com/theapemachine/synapse/pkg/auth"
)

// DefaultOutboxSize bounds the per-connection send queue when no explicit
// size is configured.
const DefaultOutboxSize = 256

/*
Registry is the process-wide set of live connections, indexed by writer and
by application id. A writer is bound to at most one Connection at a time; an
application may hold any number of writers. The registry is the single
authority on writer liveness, so everything that emits consults it first.
*/
type Registry struct {
	mu         sync.RWMutex
	byWriter   map[net.Conn]*Connection
	byID       map[string]map[net.Conn]*Connection
	outboxSize int
}

func New(outboxSize int) *Registry {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}

	return &Registry{
		byWriter:   make(map[net.Conn]*Connection),
		byID:       make(map[string]map[net.Conn]*Connection),
		outboxSize: outboxSize,
	}
}

/*
Add binds the writer to the application and returns the live Connection. A
writer that was already bound is rebound: the previous record is unbound and
its pump stopped, so no writer ever appears in two Connections at once.
*/
func (registry *Registry) Add(
	id string, claims *auth.Claims, conn net.Conn,
) *Connection {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if previous, ok := registry.byWriter[conn]; ok {
		registry.unbind(previous)
		previous.stop()
	}

	connection := newConnection(id, claims, conn, registry.outboxSize)
	registry.byWriter[conn] = connection

	writers, ok := registry.byID[id]

	if !ok {
		writers = make(map[net.Conn]*Connection)
		registry.byID[id] = writers
	}

	writers[conn] = connection
	return connection
}

/*
RemoveByWriter unbinds the writer's Connection and stops its pump. The
writer itself is left open; closing it is the owning session's call.
*/
func (registry *Registry) RemoveByWriter(conn net.Conn) *Connection {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	connection, ok := registry.byWriter[conn]

	if !ok {
		return nil
	}

	registry.unbind(connection)
	connection.stop()
	return connection
}

/*
RemoveByID unbinds every Connection held by the application and returns
them, pumps stopped, writers still open.
*/
func (registry *Registry) RemoveByID(id string) []*Connection {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var removed []*Connection

	for _, connection := range registry.byID[id] {
		registry.unbind(connection)
		connection.stop()
		removed = append(removed, connection)
	}

	return removed
}

func (registry *Registry) FindByWriter(conn net.Conn) *Connection {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	return registry.byWriter[conn]
}

func (registry *Registry) FindByID(id string) []*Connection {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	connections := make([]*Connection, 0, len(registry.byID[id]))

	for _, connection := range registry.byID[id] {
		connections = append(connections, connection)
	}

	return connections
}

func (registry *Registry) Len() int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	return len(registry.byWriter)
}

/*
Snapshot returns a consistent view of the live connections, optionally
filtered, sorted, and paged. A nil filter matches everything; unknown sort
keys and the empty key order by connection time.
*/
func (registry *Registry) Snapshot(
	filter func(*Connection) bool, sortBy string, skip, limit int,
) []*Connection {
	registry.mu.RLock()

	connections := make([]*Connection, 0, len(registry.byWriter))

	for _, connection := range registry.byWriter {
		if filter == nil || filter(connection) {
			connections = append(connections, connection)
		}
	}

	registry.mu.RUnlock()

	sort.Slice(connections, func(i, j int) bool {
		switch sortBy {
		case "id":
			if connections[i].ID != connections[j].ID {
				return connections[i].ID < connections[j].ID
			}
		case "remote_addr":
			if connections[i].RemoteAddr != connections[j].RemoteAddr {
				return connections[i].RemoteAddr < connections[j].RemoteAddr
			}
		}

		return connections[i].ConnectedAt.Before(connections[j].ConnectedAt)
	})

	if skip > 0 {
		if skip >= len(connections) {
			return nil
		}

		connections = connections[skip:]
	}

	if limit > 0 && limit < len(connections) {
		connections = connections[:limit]
	}

	return connections
}

// unbind removes the record from both indices. Callers hold the lock.
func (registry *Registry) unbind(connection *Connection) {
	delete(registry.byWriter, connection.conn)

	if writers, ok := registry.byID[connection.ID]; ok {
		delete(writers, connection.conn)

		if len(writers) == 0 {
			delete(registry.byID, connection.ID)
		}
	}
}
