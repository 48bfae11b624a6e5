package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building cbor decoder: %v", err))
	}
}

// Message is the decoded, in-memory form of a protocol datagram's
// plaintext. Exactly one of Request, Response, or Error is set,
// matching Kind.
type Message struct {
	Kind    Kind
	Method  Method
	Txid    uint32
	Version int

	Request  *RequestBody
	Response *ResponseBody
	Error    *ErrorBody
}

// envelope is the raw CBOR map shape: common keys plus exactly one
// typed body carried as a raw sub-document until Kind is known.
type envelope struct {
	Y byte            `cbor:"y"`
	T uint32          `cbor:"t"`
	V int             `cbor:"v,omitempty"`
	Q cbor.RawMessage `cbor:"q,omitempty"`
	R cbor.RawMessage `cbor:"r,omitempty"`
	E cbor.RawMessage `cbor:"e,omitempty"`
}

// NewRequest builds a request message for method with a fresh txid
// assigned by the caller.
func NewRequest(method Method, txid uint32, version int, body *RequestBody) *Message {
	return &Message{Kind: KindRequest, Method: method, Txid: txid, Version: version, Request: body}
}

// NewResponse builds a response message matching a request's txid.
func NewResponse(method Method, txid uint32, version int, body *ResponseBody) *Message {
	return &Message{Kind: KindResponse, Method: method, Txid: txid, Version: version, Response: body}
}

// NewErrorMessage builds an error reply matching a request's txid.
func NewErrorMessage(method Method, txid uint32, version int, code int, msg string) *Message {
	return &Message{Kind: KindError, Method: method, Txid: txid, Version: version, Error: &ErrorBody{Code: code, Message: msg}}
}

// Encode serializes m to its canonical CBOR plaintext form (the part
// the envelope layer encrypts).
func Encode(m *Message) ([]byte, error) {
	env := envelope{
		Y: TypeByte(m.Kind, m.Method),
		T: m.Txid,
		V: m.Version,
	}

	var body any
	switch m.Kind {
	case KindRequest:
		body = m.Request
	case KindResponse:
		body = m.Response
	case KindError:
		body = m.Error
	default:
		return nil, fmt.Errorf("wire: unknown kind %#02x", byte(m.Kind))
	}

	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode body: %w", err)
	}

	switch m.Kind {
	case KindRequest:
		env.Q = raw
	case KindResponse:
		env.R = raw
	case KindError:
		env.E = raw
	}

	out, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode envelope: %w", err)
	}
	return out, nil
}

// Decode parses plaintext into a Message, rejecting unknown kinds.
func Decode(plaintext []byte) (*Message, error) {
	var env envelope
	if err := decMode.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}

	kind, method := SplitTypeByte(env.Y)
	m := &Message{Kind: kind, Method: method, Txid: env.T, Version: env.V}

	switch kind {
	case KindRequest:
		body := new(RequestBody)
		if len(env.Q) > 0 {
			if err := decMode.Unmarshal(env.Q, body); err != nil {
				return nil, fmt.Errorf("wire: decode request body: %w", err)
			}
		}
		m.Request = body
	case KindResponse:
		body := new(ResponseBody)
		if len(env.R) > 0 {
			if err := decMode.Unmarshal(env.R, body); err != nil {
				return nil, fmt.Errorf("wire: decode response body: %w", err)
			}
		}
		m.Response = body
	case KindError:
		body := new(ErrorBody)
		if len(env.E) > 0 {
			if err := decMode.Unmarshal(env.E, body); err != nil {
				return nil, fmt.Errorf("wire: decode error body: %w", err)
			}
		}
		m.Error = body
	default:
		return nil, fmt.Errorf("wire: unknown kind %#02x", env.Y)
	}

	return m, nil
}
