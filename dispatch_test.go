package localipc

import "testing"

func TestInvokeAcceptDefaultsToAdmitWithNoCallback(t *testing.T) {
	if !invokeAccept(nil, nil) {
		t.Fatal("expected admit=true when no Accept callback is registered")
	}
	if !invokeAccept(&Callbacks{}, nil) {
		t.Fatal("expected admit=true when Callbacks.Accept is nil")
	}
}

func TestInvokeAcceptRecoversPanic(t *testing.T) {
	var reported *CallbackError
	cb := &Callbacks{
		Accept: func(*Socket) bool { panic("boom") },
		Error: func(phase string, err error, client *Socket) {
			if cerr, ok := err.(*CallbackError); ok {
				reported = cerr
			}
		},
	}
	if invokeAccept(cb, nil) {
		t.Fatal("expected admit=false when Accept panics")
	}
	if reported == nil || reported.Phase != "accept" {
		t.Fatalf("expected a CallbackError routed to the error callback, got %v", reported)
	}
}

func TestInvokeDataRecoversPanic(t *testing.T) {
	var gotPhase string
	cb := &Callbacks{
		Data: func(*Socket, []byte) { panic("boom") },
		Error: func(phase string, err error, client *Socket) {
			gotPhase = phase
		},
	}
	invokeData(cb, nil, []byte("x"))
	if gotPhase != "data" {
		t.Fatalf("expected data-phase error callback, got %q", gotPhase)
	}
}

func TestInvokeDisconnectedRecoversPanic(t *testing.T) {
	var gotPhase string
	cb := &Callbacks{
		Disconnected: func(*Socket) { panic("boom") },
		Error: func(phase string, err error, client *Socket) {
			gotPhase = phase
		},
	}
	invokeDisconnected(cb, nil)
	if gotPhase != "disconnected" {
		t.Fatalf("expected disconnected-phase error callback, got %q", gotPhase)
	}
}

func TestReportErrorSwallowsItsOwnPanic(t *testing.T) {
	cb := &Callbacks{
		Error: func(string, error, *Socket) { panic("boom") },
	}
	// Must not propagate.
	cb.reportError("accept", ErrClientLimitReached, nil)
}

func TestReportErrorIgnoresNilError(t *testing.T) {
	called := false
	cb := &Callbacks{Error: func(string, error, *Socket) { called = true }}
	cb.reportError("accept", nil, nil)
	if called {
		t.Fatal("expected the error callback not to fire for a nil error")
	}
}
