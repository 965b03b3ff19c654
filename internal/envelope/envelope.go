// File: internal/envelope/envelope.go
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Type discriminates operation traffic from liveness traffic.
type Type string

const (
	// TypeOperation carries requests and their correlated replies.
	TypeOperation Type = "operation"
	// TypeHeartbeat is the liveness frame. The misspelling is the controller's wire value.
	TypeHeartbeat Type = "hearbeat"

	// heartbeatAlias is accepted on decode for peers that spell it correctly.
	heartbeatAlias Type = "heartbeat"
)

// Valid reports whether t is a known envelope type.
func (t Type) Valid() bool {
	return t == TypeOperation || t == TypeHeartbeat
}

// Envelope is the unit exchanged between the controller and the agent.
// Message holds a decoded JSON value: map[string]any, []any, string, json.Number, bool or nil.
type Envelope struct {
	UUID    string `json:"uuid"`
	Type    Type   `json:"type"`
	Message any    `json:"message"`
}

// New creates an envelope with a freshly generated correlation id.
func New(t Type, message any) Envelope {
	return Envelope{
		UUID:    uuid.NewString(),
		Type:    t,
		Message: message,
	}
}

// Reply builds the response to req. The correlation id is always copied from the request.
func Reply(req Envelope, message any) Envelope {
	return Envelope{
		UUID:    req.UUID,
		Type:    TypeOperation,
		Message: message,
	}
}

// Operation returns the message as a parameter map when it is one.
func (e Envelope) Operation() (map[string]any, bool) {
	m, ok := e.Message.(map[string]any)
	return m, ok
}

// DecodeError reports a frame that could not be turned into an Envelope.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol decode error: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errNotUTF8     = errors.New("frame is not valid UTF-8")
	errEmptyFrame  = errors.New("empty frame")
	errMissingType = errors.New("missing envelope type")
)

// jsonAPI is configured so decoded numbers stay json.Number and survive re-encoding unchanged.
var jsonAPI = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Encode renders e as a single UTF-8 JSON text frame.
//
// Decode(Encode(e)) reproduces e only when every number in the message is a
// json.Number. Native Go numbers (int, float64, ...) encode fine but come back
// as json.Number, since the wire carries no Go type.
func Encode(e Envelope) ([]byte, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("cannot encode envelope with type %q", e.Type)
	}
	b, err := jsonAPI.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope %s: %w", e.UUID, err)
	}
	return b, nil
}

// Decode parses a text frame. Any malformed input yields a *DecodeError.
func Decode(frame []byte) (Envelope, error) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return Envelope{}, &DecodeError{Frame: frame, Err: errEmptyFrame}
	}
	if !utf8.Valid(frame) {
		return Envelope{}, &DecodeError{Frame: frame, Err: errNotUTF8}
	}

	var e Envelope
	if err := jsonAPI.Unmarshal(frame, &e); err != nil {
		return Envelope{}, &DecodeError{Frame: frame, Err: err}
	}

	switch e.Type {
	case TypeOperation, TypeHeartbeat:
	case heartbeatAlias:
		e.Type = TypeHeartbeat
	case "":
		return Envelope{}, &DecodeError{Frame: frame, Err: errMissingType}
	default:
		return Envelope{}, &DecodeError{Frame: frame, Err: fmt.Errorf("unknown envelope type %q", e.Type)}
	}
	return e, nil
}
