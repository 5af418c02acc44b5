//go:build !windows

package localipc

import (
	"errors"
	"testing"
	"time"
)

func TestListenRejectsEmptyPath(t *testing.T) {
	_, err := Listen("", nil)
	if !errors.Is(err, ErrPathIsNil) {
		t.Fatalf("expected ErrPathIsNil, got %v", err)
	}
}

func TestAcceptVetoClosesTheConnection(t *testing.T) {
	path := testSocketPath(t)
	srv, err := Listen(path, &ListenOptions{MaxClients: 2})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close(true)

	client, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	cb := &Callbacks{
		Accept:  func(*Socket) bool { return false },
		Timeout: 100,
	}
	if _, err := srv.ProcessEvents(cb); err != nil {
		t.Fatalf("ProcessEvents: %v", err)
	}

	if len(srv.GetClients()) != 0 {
		t.Fatalf("expected a vetoed client to never reach the clients map, got %d", len(srv.GetClients()))
	}
}

func TestClientLimitReachedReportsErrorAndClosesExtraConnection(t *testing.T) {
	path := testSocketPath(t)
	srv, err := Listen(path, &ListenOptions{MaxClients: 1})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close(true)

	firstClient, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer firstClient.Close()
	secondClient, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer secondClient.Close()

	var limitErrs int
	cb := &Callbacks{
		Error: func(phase string, err error, client *Socket) {
			if errors.Is(err, ErrClientLimitReached) {
				limitErrs++
			}
		},
		Timeout: 100,
	}

	// Both connections are already queued, so the first tick's accept loop
	// admits the first client and refuses the second; the second tick must
	// leave the one admitted client in place.
	if _, err := srv.ProcessEvents(cb); err != nil {
		t.Fatalf("ProcessEvents (1): %v", err)
	}
	if _, err := srv.ProcessEvents(cb); err != nil {
		t.Fatalf("ProcessEvents (2): %v", err)
	}

	if len(srv.GetClients()) != 1 {
		t.Fatalf("expected exactly one accepted client, got %d", len(srv.GetClients()))
	}
	if limitErrs == 0 {
		t.Fatal("expected at least one client-limit-reached error report")
	}
}

func TestDisconnectInvokesDisconnectedExactlyOnce(t *testing.T) {
	path := testSocketPath(t)
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close(true)

	client, err := Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	cb := &Callbacks{Timeout: 100}
	if _, err := srv.ProcessEvents(cb); err != nil {
		t.Fatalf("ProcessEvents (accept): %v", err)
	}
	if len(srv.GetClients()) != 1 {
		t.Fatalf("expected one accepted client, got %d", len(srv.GetClients()))
	}

	client.Close()

	var disconnects int
	cb.Disconnected = func(*Socket) { disconnects++ }
	if _, err := srv.ProcessEvents(cb); err != nil {
		t.Fatalf("ProcessEvents (disconnect): %v", err)
	}
	if disconnects != 1 {
		t.Fatalf("expected exactly one disconnected callback, got %d", disconnects)
	}
	if len(srv.GetClients()) != 0 {
		t.Fatalf("expected the client to be removed from clients-by-id, got %d", len(srv.GetClients()))
	}
}

func TestServerEqualComparesListeningIdentity(t *testing.T) {
	path := testSocketPath(t)
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close(true)

	if !srv.Equal(srv) {
		t.Fatal("expected a server to equal itself")
	}
	if srv.Equal(nil) {
		t.Fatal("expected a server not to equal nil")
	}
}

func TestCloseIsIdempotentOnServer(t *testing.T) {
	path := testSocketPath(t)
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := srv.Close(true); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := srv.Close(true); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestProcessEventsOnClosedServer(t *testing.T) {
	path := testSocketPath(t)
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv.Close(true)

	if _, err := srv.ProcessEvents(nil); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("expected ErrServerClosed, got %v", err)
	}
}

func TestProcessEventsWithNilCallbacksReturnsImmediately(t *testing.T) {
	path := testSocketPath(t)
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close(true)

	done := make(chan struct{})
	go func() {
		srv.ProcessEvents(nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessEvents(nil) blocked instead of returning immediately")
	}
}
