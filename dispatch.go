package localipc

import "fmt"

// invokeAccept calls cb.Accept if present, recovering a panic and treating
// it identically to a veto (false). A panic is additionally routed to the
// error callback.
func invokeAccept(cb *Callbacks, client *Socket) (admit bool) {
	if cb == nil || cb.Accept == nil {
		return true
	}
	admit = false
	func() {
		defer func() {
			if r := recover(); r != nil {
				cb.reportError("accept", &CallbackError{Phase: "accept", Client: client, Err: fmt.Errorf("callback panic: %v", r)}, client)
			}
		}()
		admit = cb.Accept(client)
	}()
	return admit
}

// invokeData calls cb.Data if present, recovering a panic and routing it to
// the error callback without tearing the client down.
func invokeData(cb *Callbacks, client *Socket, data []byte) {
	if cb == nil || cb.Data == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cb.reportError("data", &CallbackError{Phase: "data", Client: client, Err: fmt.Errorf("callback panic: %v", r)}, client)
		}
	}()
	cb.Data(client, data)
}

// invokeDisconnected calls cb.Disconnected if present, recovering a panic
// and routing it to the error callback.
func invokeDisconnected(cb *Callbacks, client *Socket) {
	if cb == nil || cb.Disconnected == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cb.reportError("disconnected", &CallbackError{Phase: "disconnected", Client: client, Err: fmt.Errorf("callback panic: %v", r)}, client)
		}
	}()
	cb.Disconnected(client)
}
