// Package kademlia defines the error taxonomy every layer of the node
// wraps its failures in, so callers can branch on Kind without string
// matching.
package kademlia

import "fmt"

// ErrKind classifies why an operation failed.
type ErrKind int

const (
	// KindGeneric covers anything not worth a dedicated kind.
	KindGeneric ErrKind = iota
	// KindArgument marks a caller-side contract violation.
	KindArgument
	// KindState marks an operation invalid in the component's current
	// lifecycle phase.
	KindState
	// KindIO marks an OS/network failure.
	KindIO
	// KindProtocol marks malformed wire data, a bad token, or an
	// unknown kind/method byte.
	KindProtocol
	// KindCrypto marks a decrypt or signature-verification failure.
	KindCrypto
	// KindNetwork marks an address-parsing failure.
	KindNetwork
)

func (k ErrKind) String() string {
	switch k {
	case KindArgument:
		return "argument"
	case KindState:
		return "state"
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	case KindCrypto:
		return "crypto"
	case KindNetwork:
		return "network"
	default:
		return "generic"
	}
}

// Error wraps an underlying cause with a Kind a caller can branch on.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrKind of err, if it (or something it wraps) is
// an *Error; returns KindGeneric otherwise.
func KindOf(err error) ErrKind {
	var e *Error
	for err != nil {
		if typed, ok := err.(*Error); ok {
			e = typed
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return KindGeneric
	}
	return e.Kind
}
