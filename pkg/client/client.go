package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/errors"
	"github.com/theapemachine/synapse/pkg/rpc"
)

// DefaultHandshakeWait bounds how long Connect listens for a verdict before
// concluding the hub accepted the session silently.
const DefaultHandshakeWait = 2 * time.Second

/*
Config shapes a hub connection. TLS, Retry, OnPayload, MaxFrameBytes, and
HandshakeWait are all optional: a nil TLS config dials plaintext, a nil Retry
dials once, and payloads nobody is waiting for are dropped when OnPayload is
unset.
*/
type Config struct {
	Addr          string
	TLS           *tls.Config
	Retry         *errors.RetryConfig
	OnPayload     func(payload rpc.Payload)
	MaxFrameBytes int
	HandshakeWait time.Duration
}

/*
Client is a framed JSON-RPC connection to the hub. One goroutine owns the
read side and routes frames: responses carrying an id some call is waiting on
resolve that call, everything else goes to OnPayload.

The hub routes by permission, not by requester, so a response only arrives
here when this connection is authorized to see it. Admin credentials always
are; for anything else Call blocks until its context expires.
*/
type Client struct {
	conn      net.Conn
	onPayload func(payload rpc.Payload)
	maxLen    int
	wait      time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *rpc.Response
	closed  bool
	readErr error
	done    chan struct{}
}

/*
Dial connects to the hub and starts the read loop. When config.Retry is set,
connection refusals are retried with exponential backoff before giving up.
*/
func Dial(ctx context.Context, config Config) (*Client, error) {
	var conn net.Conn

	attempt := func() error {
		var err error

		if config.TLS != nil {
			dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: config.TLS}
			conn, err = dialer.DialContext(ctx, "tcp", config.Addr)
		} else {
			dialer := &net.Dialer{}
			conn, err = dialer.DialContext(ctx, "tcp", config.Addr)
		}

		if err != nil {
			log.Debug("dial failed", "addr", config.Addr, "error", err)
		}

		return err
	}

	if config.Retry != nil {
		if err := errors.RetryWithBackoff(config.Retry, attempt); err != nil {
			return nil, err
		}
	} else if err := attempt(); err != nil {
		return nil, err
	}

	return NewClient(conn, config), nil
}

// NewClient wraps an established connection, taking ownership of its read
// side.
func NewClient(conn net.Conn, config Config) *Client {
	wait := config.HandshakeWait

	if wait <= 0 {
		wait = DefaultHandshakeWait
	}

	client := &Client{
		conn:      conn,
		onPayload: config.OnPayload,
		maxLen:    config.MaxFrameBytes,
		wait:      wait,
		pending:   make(map[string]chan *rpc.Response),
		done:      make(chan struct{}),
	}

	go client.readLoop()
	return client
}

/*
Connect performs the handshake for the application. The hub acknowledges
admins explicitly and stays silent for everyone else, so the verdict is
three-way: an acknowledgement resolves immediately, a refusal arrives as an
error response just before the hub closes the stream, and silence through the
handshake window means the session stands.
*/
func (client *Client) Connect(ctx context.Context, id, token string) (map[string]any, error) {
	request := rpc.NewRequest("connect", map[string]any{
		"id":                   id,
		"authentication_token": token,
	})

	ch, err := client.reserve(request.ID)

	if err != nil {
		return nil, err
	}

	defer client.release(request.ID)

	if err := client.Send(request); err != nil {
		return nil, err
	}

	timer := time.NewTimer(client.wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timer.C:
		return nil, nil

	case response := <-ch:
		return connectVerdict(response)

	case <-client.done:
		// The refusal may already sit in the buffered channel.
		select {
		case response := <-ch:
			if response != nil {
				return connectVerdict(response)
			}
		default:
		}

		return nil, client.Err()
	}
}

func connectVerdict(response *rpc.Response) (map[string]any, error) {
	if response.Error != nil {
		return nil, response.Error
	}

	if result, ok := response.Result.(map[string]any); ok {
		return result, nil
	}

	return nil, nil
}

/*
Call sends a request and waits for the response carrying its id. The id is
minted here, so concurrent calls never collide.
*/
func (client *Client) Call(
	ctx context.Context, method string, params map[string]any,
) (*rpc.Response, error) {
	request := rpc.NewRequest(method, params)
	ch, err := client.reserve(request.ID)

	if err != nil {
		return nil, err
	}

	defer client.release(request.ID)

	if err := client.Send(request); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case response := <-ch:
		if response == nil {
			return nil, client.Err()
		}

		return response, nil

	case <-client.done:
		select {
		case response := <-ch:
			if response != nil {
				return response, nil
			}
		default:
		}

		return nil, client.Err()
	}
}

// Notify sends a fire-and-forget notification.
func (client *Client) Notify(method string, params map[string]any) error {
	return client.Send(rpc.NewNotification(method, params))
}

// Send writes any payload as a single frame, serializing concurrent writers.
func (client *Client) Send(payload rpc.Payload) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	return rpc.WriteFrame(client.conn, payload, client.maxLen)
}

// Done closes when the read loop ends; Err reports why.
func (client *Client) Done() <-chan struct{} {
	return client.done
}

func (client *Client) Err() error {
	client.mu.Lock()
	defer client.mu.Unlock()

	return client.readErr
}

func (client *Client) Close() error {
	client.mu.Lock()
	client.closed = true
	client.mu.Unlock()

	return client.conn.Close()
}

func (client *Client) reserve(id string) (chan *rpc.Response, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.closed {
		return nil, fmt.Errorf("client is closed")
	}

	ch := make(chan *rpc.Response, 1)
	client.pending[id] = ch
	return ch, nil
}

func (client *Client) release(id string) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if ch, ok := client.pending[id]; ok {
		delete(client.pending, id)
		close(ch)
	}
}

func (client *Client) readLoop() {
	for {
		frame, err := rpc.ReadFrame(client.conn, client.maxLen)

		if err != nil {
			client.closeAll(err)
			return
		}

		payload, rpcErr := rpc.DecodePayload(frame)

		if rpcErr != nil {
			log.Warn("dropping undecodable frame", "code", rpcErr.Code)
			continue
		}

		client.route(payload)
	}
}

/*
route resolves a pending call when the payload is a response somebody is
waiting for; every other payload, including null-id error responses and
batches, belongs to the subscriber.
*/
func (client *Client) route(payload rpc.Payload) {
	if response, ok := payload.(*rpc.Response); ok && response.ID != nil {
		client.mu.Lock()
		ch := client.pending[*response.ID]

		// Deliver while holding the lock; release closes channels under it,
		// so a channel still in the map cannot be closed yet.
		if ch != nil {
			select {
			case ch <- response:
			default:
			}
		}

		client.mu.Unlock()

		if ch != nil {
			return
		}
	}

	if client.onPayload != nil {
		client.onPayload(payload)
	}
}

func (client *Client) closeAll(err error) {
	client.mu.Lock()

	if client.readErr == nil {
		client.readErr = err
	}

	client.closed = true

	for id, ch := range client.pending {
		delete(client.pending, id)
		close(ch)
	}

	client.mu.Unlock()
	close(client.done)
}
