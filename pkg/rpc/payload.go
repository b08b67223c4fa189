package rpc

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/theapemachine/synapse/pkg/errors"
)

// Version is the only JSON-RPC version the hub speaks.
const Version = "2.0"

/*
Payload is the tagged union of everything that travels inside a frame: a
Request, a Notification, a Response, or a homogeneous Batch of Requests or
Responses. The variant is derived from field presence on decode and from the
concrete type on encode.
*/
type Payload interface {
	isPayload()
}

/*
Request is a JSON-RPC 2.0 call that expects a response. The id is non-null;
ids minted by the hub are UUID strings.
*/
type Request struct {
	ID     string
	Method string
	Params map[string]any
}

// Notification is a JSON-RPC 2.0 call without an id; no response is expected.
type Notification struct {
	Method string
	Params map[string]any
}

/*
Response carries exactly one of Result or Error. A nil ID serializes as null,
which the protocol reserves for errors that cannot be correlated with a
request.
*/
type Response struct {
	ID     *string
	Result any
	Error  *errors.RpcError
}

// Batch is a non-empty array of Requests or of Responses. Notifications do
// not batch.
type Batch []Payload

func (r *Request) isPayload()      {}
func (n *Notification) isPayload() {}
func (r *Response) isPayload()     {}
func (b Batch) isPayload()         {}

/*
NewRequest builds a Request with a freshly minted UUID id.
*/
func NewRequest(method string, params map[string]any) *Request {
	return &Request{
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}
}

/*
NewRequestWithID builds a Request with a caller-supplied id, which must be a
UUID string.
*/
func NewRequestWithID(id string, method string, params map[string]any) (*Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewError(err, "request id must be a UUID string")
	}

	return &Request{ID: id, Method: method, Params: params}, nil
}

// NewNotification builds a Notification.
func NewNotification(method string, params map[string]any) *Notification {
	return &Notification{Method: method, Params: params}
}

// NewResponse builds a success Response for the given id.
func NewResponse(id *string, result any) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse builds an error Response for the given id.
func NewErrorResponse(id *string, rpcErr *errors.RpcError) *Response {
	return &Response{ID: id, Error: rpcErr}
}

/*
Normalize wraps a scalar payload into a single-element batch so the session
loop can classify every payload the same way.
*/
func Normalize(p Payload) Batch {
	if batch, ok := p.(Batch); ok {
		return batch
	}

	return Batch{p}
}

/*
Flatten undoes normalization on the wire: a batch of one is emitted as its
single element.
*/
func (b Batch) Flatten() Payload {
	if len(b) == 1 {
		return b[0]
	}

	return b
}

// AllRequests reports whether the batch is non-empty and holds only Requests.
func (b Batch) AllRequests() bool {
	for _, p := range b {
		if _, ok := p.(*Request); !ok {
			return false
		}
	}

	return len(b) > 0
}

// AllResponses reports whether the batch is non-empty and holds only Responses.
func (b Batch) AllResponses() bool {
	for _, p := range b {
		if _, ok := p.(*Response); !ok {
			return false
		}
	}

	return len(b) > 0
}

// AllNotifications reports whether the batch is non-empty and holds only
// Notifications.
func (b Batch) AllNotifications() bool {
	for _, p := range b {
		if _, ok := p.(*Notification); !ok {
			return false
		}
	}

	return len(b) > 0
}

// marshalParams keeps present-but-empty params distinguishable from absent
// ones, which omitempty alone cannot do for maps.
func marshalParams(params map[string]any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}

	return json.Marshal(params)
}

func (r *Request) MarshalJSON() ([]byte, error) {
	params, err := marshalParams(r.Params)
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      string          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{Version, r.ID, r.Method, params})
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	params, err := marshalParams(n.Params)
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{Version, n.Method, params})
}

func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string           `json:"jsonrpc"`
			ID      *string          `json:"id"`
			Error   *errors.RpcError `json:"error"`
		}{Version, r.ID, r.Error})
	}

	return json.Marshal(struct {
		JSONRPC string  `json:"jsonrpc"`
		ID      *string `json:"id"`
		Result  any     `json:"result"`
	}{Version, r.ID, r.Result})
}

func (b Batch) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Payload(b))
}
