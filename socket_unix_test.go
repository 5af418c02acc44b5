//go:build !windows

package localipc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "localipc-test.sock")
}

func TestConnectFailsWithoutAListener(t *testing.T) {
	_, err := Connect(testSocketPath(t))
	if !errors.Is(err, ErrFailedToConnect) {
		t.Fatalf("expected ErrFailedToConnect, got %v", err)
	}
}

func TestConnectAndExchangeBytes(t *testing.T) {
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
	defer client.Close()

	var got []byte
	cb := &Callbacks{
		Data:    func(c *Socket, data []byte) { got = append(got, data...) },
		Timeout: 100,
	}

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// One tick accepts the connection into pollFDs; a second tick is needed
	// before poll(2) can report that fd's data as ready.
	if _, err := srv.ProcessEvents(cb); err != nil {
		t.Fatalf("ProcessEvents (accept): %v", err)
	}
	if _, err := srv.ProcessEvents(cb); err != nil {
		t.Fatalf("ProcessEvents (data): %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestSetNonblockingRejectedOnServerOwnedSocket(t *testing.T) {
	s := newServerOwnedSocket(-1)
	if err := s.SetNonblocking(true); !errors.Is(err, ErrServerOwnedSocket) {
		t.Fatalf("expected ErrServerOwnedSocket, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
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
	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestReadOnClosedSocket(t *testing.T) {
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
	client.Close()

	if _, err := client.Read(nil); !errors.Is(err, ErrSocketClosed) {
		t.Fatalf("expected ErrSocketClosed, got %v", err)
	}
}

func TestRemovesStaleSocketFile(t *testing.T) {
	path := testSocketPath(t)
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatalf("seeding stale file: %v", err)
	}
	srv, err := Listen(path, nil)
	if err != nil {
		t.Fatalf("Listen should remove a stale non-socket file and succeed, got: %v", err)
	}
	srv.Close(true)
}
