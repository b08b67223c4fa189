package dispatch

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/synapse/pkg/errors"
	"github.com/theapemachine/synapse/pkg/rpc"
)

/*
HandlerFunc is a named method implementation. It receives the request params
as a keyword map and returns either a result value or a protocol error; the
dispatcher wraps whichever comes back into a Response.
*/
type HandlerFunc func(ctx context.Context, params map[string]any) (any, *errors.RpcError)

/*
Dispatcher routes requests to registered handlers by method name.
*/
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

/*
Register binds a handler to a method name. Registering a name twice replaces
the earlier handler; last registration wins.
*/
func (dispatcher *Dispatcher) Register(name string, handler HandlerFunc) {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()

	if _, exists := dispatcher.handlers[name]; exists {
		log.Debug("replacing registered handler", "method", name)
	}

	dispatcher.handlers[name] = handler
}

func (dispatcher *Dispatcher) Lookup(name string) HandlerFunc {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()

	return dispatcher.handlers[name]
}

func (dispatcher *Dispatcher) Methods() []string {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()

	names := make([]string, 0, len(dispatcher.handlers))

	for name := range dispatcher.handlers {
		names = append(names, name)
	}

	return names
}

/*
Dispatch resolves and invokes the handler for the request and returns a
Response carrying the request's id. Unknown methods come back as −32601,
handler errors pass through as-is, and a panicking handler is confined to a
−32603 on this request alone.
*/
func (dispatcher *Dispatcher) Dispatch(
	ctx context.Context, request *rpc.Request,
) (response *rpc.Response) {
	id := request.ID

	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error("handler panicked", "method", request.Method, "panic", recovered)
			response = rpc.NewErrorResponse(&id, errors.ErrInternal.WithMessagef("%v", recovered))
		}
	}()

	handler := dispatcher.Lookup(request.Method)

	if handler == nil {
		return rpc.NewErrorResponse(
			&id, errors.ErrMethodNotFound.WithMessagef("Method '%s' not found", request.Method),
		)
	}

	params := request.Params

	if params == nil {
		params = map[string]any{}
	}

	result, rpcErr := handler(ctx, params)

	if rpcErr != nil {
		return rpc.NewErrorResponse(&id, rpcErr)
	}

	return rpc.NewResponse(&id, result)
}
