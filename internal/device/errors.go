package device

import (
	"errors"
	"fmt"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs, outermost first (e.g., [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[len(e.UUIDs)-2])
}

// ErrorKind classifies lifecycle failures
type ErrorKind string

const (
	// ConnectFailed means the transport could not establish a link.
	ConnectFailed ErrorKind = "connect_failed"
	// UnexpectedDisconnect means the link dropped without being asked to.
	UnexpectedDisconnect ErrorKind = "unexpected_disconnect"
	// ActionCancelled means the action never ran to completion because the device disconnected.
	ActionCancelled ErrorKind = "action_cancelled"
	// ActionFailed means the transport executed the action and reported an error.
	ActionFailed ErrorKind = "action_failed"
	// NotReady means the current state does not accept the requested operation.
	NotReady ErrorKind = "not_ready"
)

// Error is a lifecycle error carrying its kind and the underlying transport cause, if any
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the transport cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind
var (
	ErrConnectFailed        = &Error{Kind: ConnectFailed}
	ErrUnexpectedDisconnect = &Error{Kind: UnexpectedDisconnect}
	ErrActionCancelled      = &Error{Kind: ActionCancelled}
	ErrActionFailed         = &Error{Kind: ActionFailed}
	ErrNotReady             = &Error{Kind: NotReady}
)

// Platform errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrNotConnected = errors.New("not connected")

	errNilAction = errors.New("nil action")
)

// IsKind reports whether err is an Error with the given kind
func IsKind(err error, kind ErrorKind) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind == kind
	}
	return false
}

func newError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func notReady(op string, phase Phase) *Error {
	return newError(NotReady, op, fmt.Errorf("device is %s", phase))
}
