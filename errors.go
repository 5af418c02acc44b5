package localipc

import "fmt"

// Sentinel errors surfaced to callers at API boundaries, per the error
// taxonomy. Callers should compare with errors.Is.
var (
	ErrServerIsNil                  = fmt.Errorf("server is nil")
	ErrServerClosed                 = fmt.Errorf("server is closed")
	ErrSocketIsNil                  = fmt.Errorf("socket is nil")
	ErrSocketClosed                 = fmt.Errorf("socket is closed")
	ErrServerOwnedSocket            = fmt.Errorf("server owned socket")
	ErrPathIsNil                    = fmt.Errorf("path is nil")
	ErrFailedToCreateServerInstance = fmt.Errorf("failed to create server instance")
	ErrFailedToCreateSocketInstance = fmt.Errorf("failed to create socket instance")
	ErrFailedToConnect              = fmt.Errorf("failed to connect")
	ErrPollFailed                   = fmt.Errorf("poll failed")
	ErrReadFailed                   = fmt.Errorf("read failed")
	ErrWriteFailed                  = fmt.Errorf("write failed")
	ErrStateCheckFailed             = fmt.Errorf("state check failed")
	ErrSetStateFailed               = fmt.Errorf("set state failed")
	ErrTimeout                      = fmt.Errorf("timeout")
	ErrClientLimitReached           = fmt.Errorf("client limit reached")
	ErrCallbackFailed               = fmt.Errorf("callback failed")
	ErrFailedToRecreatePipe         = fmt.Errorf("failed to recreate pipe")
)

// CallbackError describes a failure encountered while servicing a tick that
// is routed to the error callback rather than returned from ProcessEvents.
// Phase identifies which part of the tick produced it: "accept", "read",
// "data", "disconnected", or "internal".
type CallbackError struct {
	Phase  string
	Client *Socket
	Err    error
}

func (e *CallbackError) Error() string {
	if e.Client != nil {
		return fmt.Sprintf("%s: %s (client %v)", e.Phase, e.Err, e.Client.id())
	}
	return fmt.Sprintf("%s: %s", e.Phase, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
