package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/theapemachine/synapse/pkg/errors"
)

/*
wireObject mirrors a single JSON-RPC object with raw fields, so classification
can distinguish an absent key from a present-but-null one.
*/
type wireObject struct {
	JSONRPC *string         `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

/*
DecodePayload parses one frame body into a typed payload. Classification is by
field presence, in order: method+id is a Request, method alone a Notification,
result or error a Response. Arrays must be homogeneous batches of Requests or
of Responses.

Failures come back as RpcErrors the session answers without closing: -32700
for malformed JSON, -32600 for a valid but unclassifiable object, and -32603
carrying the offending text for a broken batch.
*/
func DecodePayload(data []byte) (Payload, *errors.RpcError) {
	switch firstByte(data) {
	case '{':
		return decodeObject(data)
	case '[':
		return decodeBatch(data)
	default:
		if json.Valid(data) {
			return nil, errors.ErrInvalidRequest
		}

		return nil, errors.ErrParseError
	}
}

func firstByte(data []byte) byte {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}

		return c
	}

	return 0
}

func decodeObject(data []byte) (Payload, *errors.RpcError) {
	var w wireObject

	if err := json.Unmarshal(data, &w); err != nil {
		if json.Valid(data) {
			return nil, errors.ErrInvalidRequest
		}

		return nil, errors.ErrParseError
	}

	switch {
	case w.Method != nil && w.ID != nil:
		return decodeRequest(&w)
	case w.Method != nil:
		return decodeNotification(&w)
	case w.Result != nil || w.Error != nil:
		return decodeResponse(&w)
	default:
		return nil, errors.ErrInvalidRequest
	}
}

func decodeBatch(data []byte) (Payload, *errors.RpcError) {
	// Batch-level failures carry the offending payload so the sender's
	// observers can see what was rejected.
	invalid := errors.ErrInternal.WithMessagef("Invalid Request(s): %s", string(data))

	var elems []json.RawMessage

	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, errors.ErrParseError
	}

	if len(elems) == 0 {
		return nil, invalid
	}

	var requests, responses int

	batch := make(Batch, 0, len(elems))

	for _, elem := range elems {
		p, rpcErr := decodeObject(elem)
		if rpcErr != nil {
			return nil, invalid
		}

		switch p.(type) {
		case *Request:
			requests++
		case *Response:
			responses++
		default:
			// Notifications do not batch.
			return nil, invalid
		}

		batch = append(batch, p)
	}

	if requests > 0 && responses > 0 {
		return nil, invalid
	}

	return batch, nil
}

// An absent jsonrpc member is tolerated; a present one must be "2.0".
func validVersion(w *wireObject) bool {
	return w.JSONRPC == nil || *w.JSONRPC == Version
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeRequest(w *wireObject) (Payload, *errors.RpcError) {
	if !validVersion(w) {
		return nil, errors.ErrInvalidRequest
	}

	var id string

	if err := json.Unmarshal(w.ID, &id); err != nil || id == "" {
		return nil, errors.ErrInvalidRequest
	}

	params, ok := decodeParams(w.Params)
	if !ok {
		return nil, errors.ErrInvalidRequest
	}

	return &Request{ID: id, Method: *w.Method, Params: params}, nil
}

func decodeNotification(w *wireObject) (Payload, *errors.RpcError) {
	if !validVersion(w) {
		return nil, errors.ErrInvalidRequest
	}

	params, ok := decodeParams(w.Params)
	if !ok {
		return nil, errors.ErrInvalidRequest
	}

	return &Notification{Method: *w.Method, Params: params}, nil
}

func decodeResponse(w *wireObject) (Payload, *errors.RpcError) {
	if !validVersion(w) {
		return nil, errors.ErrInvalidRequest
	}

	// A response always carries an id member, null included.
	if w.ID == nil {
		return nil, errors.ErrInvalidRequest
	}

	var id *string

	if !isJSONNull(w.ID) {
		var s string

		if err := json.Unmarshal(w.ID, &s); err != nil {
			return nil, errors.ErrInvalidRequest
		}

		id = &s
	}

	hasError := w.Error != nil && !isJSONNull(w.Error)
	hasResult := w.Result != nil

	if hasError {
		if hasResult && !isJSONNull(w.Result) {
			return nil, errors.ErrInvalidRequest
		}

		var rpcErr errors.RpcError

		if err := json.Unmarshal(w.Error, &rpcErr); err != nil {
			return nil, errors.ErrInvalidRequest
		}

		if !errors.ValidRpcCode(rpcErr.Code) {
			return nil, errors.ErrInvalidRequest
		}

		return &Response{ID: id, Error: &rpcErr}, nil
	}

	if !hasResult {
		return nil, errors.ErrInvalidRequest
	}

	var result any

	if err := json.Unmarshal(w.Result, &result); err != nil {
		return nil, errors.ErrInvalidRequest
	}

	return &Response{ID: id, Result: result}, nil
}

// decodeParams accepts an absent or null params member, or a JSON object.
// Positional params are not part of this protocol.
func decodeParams(raw json.RawMessage) (map[string]any, bool) {
	if raw == nil || isJSONNull(raw) {
		return nil, true
	}

	var params map[string]any

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, false
	}

	return params, true
}
