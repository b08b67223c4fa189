package hub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
)

/*
Server accepts streams on a listener and runs each one as a hub session.
*/
type Server struct {
	hub *Hub
	wg  sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func NewServer(hub *Hub) *Server {
	return &Server{hub: hub, conns: make(map[net.Conn]struct{})}
}

// track registers an accepted stream for shutdown. A stream that races the
// shutdown is closed on the spot; its session then fails its first read.
func (server *Server) track(conn net.Conn) {
	server.mu.Lock()
	defer server.mu.Unlock()

	if server.closed {
		_ = conn.Close()
		return
	}

	server.conns[conn] = struct{}{}
}

func (server *Server) untrack(conn net.Conn) {
	server.mu.Lock()
	defer server.mu.Unlock()

	delete(server.conns, conn)
}

// closeAll closes every tracked stream, which unblocks sessions still waiting
// on a read. Sessions that already finished have untracked themselves.
func (server *Server) closeAll() {
	server.mu.Lock()
	defer server.mu.Unlock()

	server.closed = true

	for conn := range server.conns {
		_ = conn.Close()
	}
}

/*
NewTLSListener binds a TLS listener from PEM-encoded certificate and key
files.
*/
func NewTLSListener(addr, certFile, keyFile string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)

	if err != nil {
		return nil, fmt.Errorf("failed to load TLS keypair: %w", err)
	}

	listener, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return listener, nil
}

/*
Serve accepts sessions until the context is canceled or the listener fails.
Cancellation closes the listener and every accepted stream, handshaken or
not, which unblocks the session readers; Serve returns once every session
has finished tearing down.
*/
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	log.Info("hub listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
		server.closeAll()
	}()

	for {
		conn, err := listener.Accept()

		if err != nil {
			server.wg.Wait()

			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("hub stopped accepting")
				return nil
			}

			return fmt.Errorf("accept failed: %w", err)
		}

		server.track(conn)
		server.wg.Add(1)

		go func() {
			defer server.wg.Done()
			defer server.untrack(conn)
			server.hub.ServeConn(ctx, conn)
		}()
	}
}
