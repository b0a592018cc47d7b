package thingshadow

import (
	"errors"
	"fmt"
)

// Sentinel connection statuses reported by Yield - check with errors.Is().
var (
	// ErrReconnecting means the connection dropped and the transport is retrying.
	// The client is still usable.
	ErrReconnecting = errors.New("attempting reconnect")

	// ErrReconnected is reported once after the transport re-established the session.
	ErrReconnected = errors.New("reconnected")

	// ErrConnectionLost means the connection dropped and no reconnect will happen.
	ErrConnectionLost = errors.New("connection lost")
)

// Sentinel errors for client operations - check with errors.Is().
var (
	ErrClientClosed     = errors.New("client closed")
	ErrNotConnected     = errors.New("not connected")
	ErrNoServer         = errors.New("no server configured: use WithServer()")
	ErrNoThingName      = errors.New("thing name is required")
	ErrInvalidThingName = errors.New("invalid thing name")
	ErrDuplicateRequest = errors.New("request with the same client token is in flight")
	ErrMissingToken     = errors.New("document has no clientToken")
	ErrNilCallback      = errors.New("callback is required")
	ErrInvalidField     = errors.New("invalid field")
	ErrFieldRegistered  = errors.New("delta already registered for key")
)

// Sentinel errors for document building - check with errors.Is().
var (
	ErrDocumentTooLarge = errors.New("document exceeds maximum size")
	ErrDocumentFinal    = errors.New("document already finalized")
	ErrInvalidDocument  = errors.New("invalid shadow document")
)

// IsRecoverable reports whether a Yield result leaves the client usable.
func IsRecoverable(err error) bool {
	return err == nil || errors.Is(err, ErrReconnecting) || errors.Is(err, ErrReconnected)
}

// Action is the shadow operation a request or response belongs to.
type Action int

const (
	ActionUpdate Action = iota
	ActionGet
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionUpdate:
		return "update"
	case ActionGet:
		return "get"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// AckStatus is the outcome of a tracked shadow request.
type AckStatus int

const (
	AckTimeout AckStatus = iota
	AckRejected
	AckAccepted
)

func (s AckStatus) String() string {
	switch s {
	case AckTimeout:
		return "timeout"
	case AckRejected:
		return "rejected"
	case AckAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// RejectedError describes the error document of a rejected request.
// ParseRejected builds one from the document an AckCallback receives with
// AckRejected, and the client logs it when the rejection arrives.
type RejectedError struct {
	ThingName   string
	Action      Action
	ClientToken string
	Code        int
	Message     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("shadow %s rejected for %s: %d %s", e.Action, e.ThingName, e.Code, e.Message)
}
