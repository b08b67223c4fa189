package hub

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theapemachine/synapse/pkg/auth"
	"github.com/theapemachine/synapse/pkg/dispatch"
	"github.com/theapemachine/synapse/pkg/handlers"
	"github.com/theapemachine/synapse/pkg/observability"
	"github.com/theapemachine/synapse/pkg/registry"
	"github.com/theapemachine/synapse/pkg/rpc"
	"github.com/theapemachine/synapse/pkg/stores"
	"github.com/theapemachine/synapse/pkg/stores/sqlite"
	"github.com/theapemachine/synapse/pkg/vault"
)

type countingObserver struct {
	mu             sync.Mutex
	opened         int
	closed         map[observability.CloseReason]int
	handshakes     map[observability.HandshakeReason]int
	dispatches     map[string]int
	delivered      int
	dropped        int
	protocolErrors map[int]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		closed:         map[observability.CloseReason]int{},
		handshakes:     map[observability.HandshakeReason]int{},
		dispatches:     map[string]int{},
		protocolErrors: map[int]int{},
	}
}

func (o *countingObserver) SessionOpened() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *countingObserver) SessionClosed(reason observability.CloseReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed[reason]++
}

func (o *countingObserver) Handshake(
	result observability.HandshakeResult, reason observability.HandshakeReason,
) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handshakes[reason]++
}

func (o *countingObserver) Dispatch(method string, result observability.DispatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatches[method]++
}

func (o *countingObserver) Emitted(action rpc.Action, delivered, dropped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered += delivered
	o.dropped += dropped
}

func (o *countingObserver) ProtocolError(code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.protocolErrors[code]++
}

func (o *countingObserver) openedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

func (o *countingObserver) closedWith(reason observability.CloseReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed[reason]
}

func (o *countingObserver) protocolErrorsWith(code int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.protocolErrors[code]
}

type testEnv struct {
	hub        *Hub
	store      *sqlite.Store
	registry   *registry.Registry
	verifier   *auth.Verifier
	dispatcher *dispatch.Dispatcher
	observer   *countingObserver
}

func newTestEnv(t *testing.T, maxFrameBytes int) *testEnv {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	key, err := vault.GenerateKey()
	require.NoError(t, err)

	tokenVault, err := vault.New(key)
	require.NoError(t, err)

	reg := registry.New(8)
	verifier := auth.NewVerifier("secret", "HS256")
	dispatcher := dispatch.New()

	require.NoError(t, handlers.RegisterAll(dispatcher, handlers.Config{
		Repository: store,
		Registry:   reg,
		Verifier:   verifier,
		Vault:      tokenVault,
	}))

	observer := newCountingObserver()

	h, err := New(Config{
		Repository:    store,
		Registry:      reg,
		Dispatcher:    dispatcher,
		Observer:      observer,
		MaxFrameBytes: maxFrameBytes,
	})
	require.NoError(t, err)

	return &testEnv{
		hub:        h,
		store:      store,
		registry:   reg,
		verifier:   verifier,
		dispatcher: dispatcher,
		observer:   observer,
	}
}

func (env *testEnv) createApp(t *testing.T, name string, admin bool) *stores.Application {
	t.Helper()

	app := env.store.CreateApplication(context.Background(), &stores.Application{
		Name:        name,
		URL:         "https://" + name + ".example.com",
		Description: name,
		IsActive:    true,
		IsAdmin:     admin,
	})

	require.NotNil(t, app)
	return app
}

type testClient struct {
	conn net.Conn
}

func (env *testEnv) dial(t *testing.T) *testClient {
	t.Helper()

	client, server := net.Pipe()
	go env.hub.ServeConn(context.Background(), server)

	t.Cleanup(func() { _ = client.Close() })
	return &testClient{conn: client}
}

// connect performs the handshake; the admin acknowledgement frame is left
// for the caller to drain so multi-client tests control their sequencing.
func (env *testEnv) connect(t *testing.T, app *stores.Application) *testClient {
	t.Helper()

	client := env.dial(t)
	token, err := env.verifier.Mint(app.ID, app.Name, app.IsAdmin, 0)
	require.NoError(t, err)

	client.send(t, rpc.NewRequest("connect", map[string]any{
		"id":                   app.ID,
		"authentication_token": token,
	}))

	return client
}

func (client *testClient) send(t *testing.T, payload rpc.Payload) {
	t.Helper()

	require.NoError(t, client.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, rpc.WriteFrame(client.conn, payload, 0))
}

func (client *testClient) sendRaw(t *testing.T, body []byte) {
	t.Helper()

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	require.NoError(t, client.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := client.conn.Write(frame)
	require.NoError(t, err)
}

func (client *testClient) read(t *testing.T) rpc.Payload {
	t.Helper()

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	frame, err := rpc.ReadFrame(client.conn, 0)
	require.NoError(t, err)

	payload, rpcErr := rpc.DecodePayload(frame)
	require.Nil(t, rpcErr)
	return payload
}

func (client *testClient) readResponse(t *testing.T) *rpc.Response {
	t.Helper()

	response, ok := client.read(t).(*rpc.Response)
	require.True(t, ok, "expected a response payload")
	return response
}

func (client *testClient) readRequest(t *testing.T) *rpc.Request {
	t.Helper()

	request, ok := client.read(t).(*rpc.Request)
	require.True(t, ok, "expected a request payload")
	return request
}

func (client *testClient) expectSilence(t *testing.T) {
	t.Helper()

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))

	_, err := rpc.ReadFrame(client.conn, 0)
	require.Error(t, err)

	netErr, ok := err.(net.Error)

	if !ok {
		var unwrapped net.Error
		require.ErrorAs(t, err, &unwrapped)
		netErr = unwrapped
	}

	require.True(t, netErr.Timeout(), "expected a read timeout, got %v", err)
}

func (client *testClient) expectClosed(t *testing.T) {
	t.Helper()

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, err := rpc.ReadFrame(client.conn, 0)
	require.ErrorIs(t, err, io.EOF)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeAndRequestRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0)

	admin := env.createApp(t, "a1", true)
	other := env.createApp(t, "a2", false)

	client := env.connect(t, admin)

	ack := client.readResponse(t)
	require.Nil(t, ack.Error)

	result := ack.Result.(map[string]any)
	assert.Equal(t, admin.ID, result["connection_id"])
	assert.Equal(t, "Application connected successfully", result["message"])

	client.send(t, &rpc.Request{
		ID:     "req-1",
		Method: "check_has_permission",
		Params: map[string]any{
			"owner_id":  admin.ID,
			"target_id": other.ID,
			"action":    "outbound_request",
		},
	})

	// Admins observe outbound requests before the dispatch response arrives.
	echoed := client.readRequest(t)
	assert.Equal(t, "req-1", echoed.ID)
	assert.Equal(t, "check_has_permission", echoed.Method)

	response := client.readResponse(t)
	require.NotNil(t, response.ID)
	assert.Equal(t, "req-1", *response.ID)
	require.Nil(t, response.Error)
	assert.Equal(t, map[string]any{"has_permission": false}, response.Result)
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	client := env.connect(t, admin)
	client.readResponse(t)

	client.send(t, &rpc.Request{ID: "q", Method: "nope"})
	client.readRequest(t)

	response := client.readResponse(t)
	require.NotNil(t, response.ID)
	assert.Equal(t, "q", *response.ID)
	require.NotNil(t, response.Error)
	assert.Equal(t, -32601, response.Error.Code)
	assert.Equal(t, "Method 'nope' not found", response.Error.Message)
}

func TestBatchDispatch(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	client := env.connect(t, admin)
	client.readResponse(t)

	client.send(t, rpc.Batch{
		&rpc.Request{ID: "b-1", Method: "list_applications"},
		&rpc.Request{ID: "b-2", Method: "nope"},
	})

	echoed, ok := client.read(t).(rpc.Batch)
	require.True(t, ok, "expected the echoed batch")
	assert.Len(t, echoed, 2)

	responses, ok := client.read(t).(rpc.Batch)
	require.True(t, ok, "expected a response batch")
	require.Len(t, responses, 2)

	first := responses[0].(*rpc.Response)
	require.Nil(t, first.Error)
	assert.Equal(t, "b-1", *first.ID)

	second := responses[1].(*rpc.Response)
	require.NotNil(t, second.Error)
	assert.Equal(t, -32601, second.Error.Code)
	assert.Equal(t, "b-2", *second.ID)
}

func TestResponsePassthrough(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	client := env.connect(t, admin)
	client.readResponse(t)

	id := "7b1c4f60-92b4-4f9e-a569-5d2f6e2f0a11"
	client.send(t, rpc.NewResponse(&id, "done"))

	echoed := client.readResponse(t)
	require.NotNil(t, echoed.ID)
	assert.Equal(t, id, *echoed.ID)
	assert.Equal(t, "done", echoed.Result)
}

func TestNotificationFanOutHonorsAdmin(t *testing.T) {
	env := newTestEnv(t, 0)

	sender := env.createApp(t, "a1", false)
	bystander := env.createApp(t, "a2", false)
	adminApp := env.createApp(t, "adm", true)

	senderClient := env.connect(t, sender)
	bystanderClient := env.connect(t, bystander)

	adminOne := env.connect(t, adminApp)
	adminOne.readResponse(t)

	adminTwo := env.connect(t, adminApp)
	adminOne.readResponse(t)
	adminTwo.readResponse(t)

	senderClient.send(t, rpc.NewNotification("heartbeat", map[string]any{"seq": float64(1)}))

	for _, adminClient := range []*testClient{adminOne, adminTwo} {
		notification, ok := adminClient.read(t).(*rpc.Notification)
		require.True(t, ok, "expected the notification")
		assert.Equal(t, "heartbeat", notification.Method)
		assert.Equal(t, map[string]any{"seq": float64(1)}, notification.Params)
	}

	bystanderClient.expectSilence(t)
	senderClient.expectSilence(t)
}

func TestPermissionFanOut(t *testing.T) {
	env := newTestEnv(t, 0)

	sender := env.createApp(t, "sender", false)
	watcher := env.createApp(t, "watcher", false)
	bystander := env.createApp(t, "bystander", false)

	require.NotNil(t, env.store.GrantPermission(
		context.Background(), watcher.ID, sender.ID, rpc.ActionOutboundNotification,
	))

	senderClient := env.connect(t, sender)
	watcherClient := env.connect(t, watcher)
	bystanderClient := env.connect(t, bystander)

	senderClient.send(t, rpc.NewNotification("update", nil))

	notification, ok := watcherClient.read(t).(*rpc.Notification)
	require.True(t, ok)
	assert.Equal(t, "update", notification.Method)

	bystanderClient.expectSilence(t)
	senderClient.expectSilence(t)
}

func TestMalformedBatchKeepsSessionOpen(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	client := env.connect(t, admin)
	client.readResponse(t)

	client.sendRaw(t, []byte(`[{"method":"x"},{"result":42,"id":"y"}]`))

	response := client.readResponse(t)
	assert.Nil(t, response.ID)
	require.NotNil(t, response.Error)
	assert.Equal(t, -32603, response.Error.Code)
	assert.Contains(t, response.Error.Message, "Invalid Request(s): ")

	waitFor(t, "protocol error observation", func() bool {
		return env.observer.protocolErrorsWith(-32603) == 1
	})

	// The session survives the malformed batch.
	client.send(t, &rpc.Request{ID: "after", Method: "list_applications"})
	client.readRequest(t)

	after := client.readResponse(t)
	require.Nil(t, after.Error)
	assert.Equal(t, "after", *after.ID)
}

func TestParseErrorAnswersInBand(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	client := env.connect(t, admin)
	client.readResponse(t)

	client.sendRaw(t, []byte(`{"method": "broken"`))

	response := client.readResponse(t)
	assert.Nil(t, response.ID)
	require.NotNil(t, response.Error)
	assert.Equal(t, -32700, response.Error.Code)
}

func TestHandshakeRejections(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	t.Run("notification is closed silently", func(t *testing.T) {
		client := env.dial(t)
		client.send(t, rpc.NewNotification("connect", nil))
		client.expectClosed(t)
	})

	t.Run("wrong method is closed silently", func(t *testing.T) {
		client := env.dial(t)
		client.send(t, rpc.NewRequest("list_applications", nil))
		client.expectClosed(t)
	})

	t.Run("garbage frame is closed silently", func(t *testing.T) {
		client := env.dial(t)
		client.sendRaw(t, []byte("not json"))
		client.expectClosed(t)
	})

	t.Run("bad token is answered then closed", func(t *testing.T) {
		client := env.dial(t)
		client.send(t, rpc.NewRequest("connect", map[string]any{
			"id":                   admin.ID,
			"authentication_token": "bogus",
		}))

		response := client.readResponse(t)
		require.NotNil(t, response.Error)
		assert.Equal(t, -32603, response.Error.Code)
		assert.Equal(t, "Authentication token is invalid or expired", response.Error.Message)

		client.expectClosed(t)
	})

	waitFor(t, "handshake failure count", func() bool {
		return env.observer.closedWith(observability.CloseReasonHandshakeFailed) == 4
	})
}

func TestHandshakeThrottle(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	throttled, err := New(Config{
		Repository: env.store,
		Registry:   env.registry,
		Dispatcher: env.dispatcher,
		Observer:   env.observer,
		Limiter:    auth.NewRateLimiter(1, time.Minute),
	})
	require.NoError(t, err)

	dial := func() *testClient {
		client, server := net.Pipe()
		go throttled.ServeConn(context.Background(), server)

		t.Cleanup(func() { _ = client.Close() })
		return &testClient{conn: client}
	}

	token, err := env.verifier.Mint(admin.ID, admin.Name, true, 0)
	require.NoError(t, err)

	first := dial()
	first.send(t, rpc.NewRequest("connect", map[string]any{
		"id":                   admin.ID,
		"authentication_token": token,
	}))
	first.readResponse(t)

	// Pipe connections share one remote host, so the second dial trips the
	// limit and is closed before its handshake is read.
	second := dial()
	second.expectClosed(t)

	waitFor(t, "throttled close reason", func() bool {
		return env.observer.closedWith(observability.CloseReasonThrottled) == 1
	})
}

func TestOversizedFrameClosesSession(t *testing.T) {
	env := newTestEnv(t, 128)
	admin := env.createApp(t, "a1", true)

	client := env.connect(t, admin)
	client.readResponse(t)

	big := make([]byte, 256)

	for i := range big {
		big[i] = 'x'
	}

	client.sendRaw(t, big)
	client.expectClosed(t)

	waitFor(t, "oversized close reason", func() bool {
		return env.observer.closedWith(observability.CloseReasonFrameTooLarge) == 1
	})
}

func TestUnboundWriterClosesSession(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	client := env.connect(t, admin)
	client.readResponse(t)

	env.registry.RemoveByID(admin.ID)

	client.send(t, &rpc.Request{ID: "late", Method: "list_applications"})
	client.expectClosed(t)

	waitFor(t, "unbound close reason", func() bool {
		return env.observer.closedWith(observability.CloseReasonUnbound) == 1
	})
}

func TestEmitSkipsFailedWriters(t *testing.T) {
	env := newTestEnv(t, 0)

	liveServer, liveClient := net.Pipe()
	deadServer, deadClient := net.Pipe()

	t.Cleanup(func() {
		liveServer.Close()
		liveClient.Close()
		deadServer.Close()
		deadClient.Close()
	})

	live := env.registry.Add("app-live", &auth.Claims{}, liveServer)
	dead := env.registry.Add("app-dead", &auth.Claims{}, deadServer)

	env.registry.RemoveByWriter(deadServer)

	done := make(chan struct{})

	go func() {
		defer close(done)

		require.NoError(t, liveClient.SetReadDeadline(time.Now().Add(2*time.Second)))

		frame, err := rpc.ReadFrame(liveClient, 0)
		assert.NoError(t, err)
		assert.NotNil(t, frame)
	}()

	delivered, dropped := env.hub.emit(
		rpc.NewNotification("ping", nil),
		[]*registry.Connection{dead, live},
	)

	<-done
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, dropped)
}

func TestServerShutdown(t *testing.T) {
	env := newTestEnv(t, 0)
	admin := env.createApp(t, "a1", true)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(env.hub)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)

	go func() { served <- server.Serve(ctx, listener) }()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client := &testClient{conn: conn}
	token, err := env.verifier.Mint(admin.ID, admin.Name, true, 0)
	require.NoError(t, err)

	client.send(t, rpc.NewRequest("connect", map[string]any{
		"id":                   admin.ID,
		"authentication_token": token,
	}))

	client.readResponse(t)

	// A stream that never handshakes must not hold the shutdown hostage.
	idle, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idle.Close() })

	waitFor(t, "both sessions to open", func() bool {
		return env.observer.openedCount() == 2
	})

	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	client.expectClosed(t)
	(&testClient{conn: idle}).expectClosed(t)
	assert.Equal(t, 0, env.registry.Len())
}
