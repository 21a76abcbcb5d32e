// Package rpc implements the JSON-RPC 2.0 framing used for all broker and
// peer communication. It is a pure encode/decode layer: no sockets, no
// dispatch, just message shapes and the per-session id sequence used to
// correlate requests with responses.
//
// Three observable message kinds travel the wire: requests (have a
// non-null id and a method), notifications (have a method, no id), and
// responses (have an id and exactly one of result/error). Decode never
// guesses; it classifies a message strictly from which fields are present.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC protocol tag carried on every message.
const Version = "2.0"

// Kind classifies a decoded Message.
type Kind int

const (
	// KindInvalid marks a Message that failed to classify; callers should
	// not see this outside of a decode error path.
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Standard JSON-RPC 2.0 error codes. -32000..-32099 is reserved for
// application-defined errors and intentionally has no named constant
// here.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCError is the {code, message} pair carried by an error response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrParse is returned by Decode when the input is not valid JSON or is
// missing the jsonrpc version tag. It is never itself sent on the wire;
// callers that can recover an id from a parse failure construct their own
// CodeParseError response instead.
var ErrParse = errors.New("rpc: parse error")

// ErrInvalidRequest is returned by Decode when the JSON parses but the
// message shape doesn't match any of request/notification/response.
var ErrInvalidRequest = errors.New("rpc: invalid request")

// wireMessage is the superset shape used for both encoding and decoding.
// Fields are optional on the wire; presence, not type, is what Decode uses
// to classify a Message.
type wireMessage struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  []json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *RPCError         `json:"error,omitempty"`
}

// Message is the decoded, classified form of a wire message.
type Message struct {
	Kind   Kind
	ID     string // empty for notifications
	Method string
	Params []json.RawMessage
	Result []json.RawMessage
	Error  *RPCError
}

// HasID reports whether the message carries a correlation id.
func (m *Message) HasID() bool {
	return m.Kind == KindRequest || m.Kind == KindResponse
}

// Param unmarshals the i'th positional parameter into v. It returns an
// error if the index is out of range, surfaced by callers as
// CodeInvalidParams.
func (m *Message) Param(i int, v interface{}) error {
	if i < 0 || i >= len(m.Params) {
		return fmt.Errorf("rpc: missing param %d", i)
	}
	return json.Unmarshal(m.Params[i], v)
}

// EncodeRequest builds a JSON-RPC request: a method call expecting a
// correlated response.
func EncodeRequest(id, method string, params ...interface{}) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	idBytes, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		JSONRPC: Version,
		ID:      idBytes,
		Method:  method,
		Params:  raw,
	})
}

// EncodeNotification builds a fire-and-forget JSON-RPC notification with
// no id and therefore no expectation of a reply.
func EncodeNotification(method string, params ...interface{}) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	})
}

// EncodeResponse builds a successful JSON-RPC response correlated to id.
// result is marshaled as a positional array (e.g. locate's [port, host]).
func EncodeResponse(id string, result ...interface{}) ([]byte, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	idBytes, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	resultBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		JSONRPC: Version,
		ID:      idBytes,
		Result:  resultBytes,
	})
}

// EncodeError builds an error response correlated to id.
func EncodeError(id string, rpcErr *RPCError) ([]byte, error) {
	idBytes, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		JSONRPC: Version,
		ID:      idBytes,
		Error:   rpcErr,
	})
}

func marshalParams(params []interface{}) ([]json.RawMessage, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, len(params))
	for i, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("rpc: marshal param %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// Decode classifies and parses a single framed JSON payload (the bytes
// between two terminators; framing itself is session's job, not this
// package's).
func Decode(payload []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if wire.JSONRPC == "" {
		return nil, fmt.Errorf("%w: missing jsonrpc version tag", ErrParse)
	}

	msg := &Message{
		Method: wire.Method,
		Params: wire.Params,
		Error:  wire.Error,
	}

	var id string
	hasID := len(wire.ID) > 0 && string(wire.ID) != "null"
	if hasID {
		if err := json.Unmarshal(wire.ID, &id); err != nil {
			// id may be a number; fall back to raw text representation.
			id = string(wire.ID)
		}
		msg.ID = id
	}

	switch {
	case hasID && wire.Method != "":
		msg.Kind = KindRequest
	case !hasID && wire.Method != "":
		msg.Kind = KindNotification
	case hasID && (wire.Result != nil || wire.Error != nil):
		msg.Kind = KindResponse
		if wire.Result != nil {
			var results []json.RawMessage
			if err := json.Unmarshal(wire.Result, &results); err != nil {
				// Some responses carry a bare scalar/object result rather
				// than an array; wrap it as a single-element result so
				// callers can still treat Result as positional.
				results = []json.RawMessage{wire.Result}
			}
			msg.Result = results
		}
	default:
		return nil, fmt.Errorf("%w: unrecognized message shape", ErrInvalidRequest)
	}

	return msg, nil
}
