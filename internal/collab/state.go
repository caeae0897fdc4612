package collab

import (
	"errors"
	"fmt"

	"github.com/serroba/smart-collab/internal/ws"
)

// Common errors.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrSessionClosed        = errors.New("session is closed")
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Joining
	Active
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Joining:
		return "joining"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// RemoteError is an error message received from the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Is makes an authentication_failed error match ErrAuthenticationFailed.
func (e *RemoteError) Is(target error) bool {
	return target == ErrAuthenticationFailed && e.Code == ws.ErrorCodeAuthenticationFailed
}
