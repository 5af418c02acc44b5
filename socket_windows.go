//go:build windows

package localipc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/windows"
)

// Socket is a handle wrapping one OS pipe endpoint: either a caller-owned
// connection created by Connect, or a server-owned endpoint materialized by
// a Server's accept path. serverOwned endpoints reject SetNonblocking;
// closing one disconnects the pipe instance rather than destroying the
// handle outright, since the Server reuses it for the next client.
type Socket struct {
	mu          sync.Mutex
	handle      windows.Handle
	path        string
	serverOwned bool
	closed      bool
	nonblocking bool
}

func newServerOwnedSocket(h windows.Handle, path string) *Socket {
	return &Socket{handle: h, path: path, serverOwned: true}
}

// id returns the stable identifier used as the clients-by-id map key: the
// pipe instance handle's integer value, for the duration of this client's
// session.
func (s *Socket) id() uintptr { return uintptr(s.handle) }

// Connect opens a caller-owned connection to the named pipe at path,
// waiting if every instance is momentarily busy.
func Connect(path string) (*Socket, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	namePtr, err := windows.UTF16PtrFromString(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFailedToConnect, err)
	}

	var h windows.Handle
	for {
		h, err = windows.CreateFile(namePtr,
			windows.GENERIC_READ|windows.GENERIC_WRITE, 0, nil,
			windows.OPEN_EXISTING, windows.FILE_FLAG_OVERLAPPED, 0)
		if err == nil {
			break
		}
		if err != windows.ERROR_PIPE_BUSY {
			return nil, fmt.Errorf("%w: %s", ErrFailedToConnect, err)
		}
		if waitErr := waitNamedPipe(namePtr, windowsConnectTimeoutMS); waitErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrFailedToConnect, waitErr)
		}
	}

	return &Socket{handle: h, path: resolved}, nil
}

// Read performs a single overlapped read of up to opts.BufferSize bytes
// (default DefaultBufferSize). If opts.Timeout (default: indefinite) is
// >= 0, Read waits up to that many milliseconds for completion before
// returning ErrTimeout.
func (s *Socket) Read(opts *ReadOptions) ([]byte, error) {
	if s == nil {
		return nil, ErrSocketIsNil
	}
	s.mu.Lock()
	closed := s.closed
	h := s.handle
	s.mu.Unlock()
	if closed {
		return nil, ErrSocketClosed
	}

	bufferSize, timeoutMS := readDefaults(opts)

	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadFailed, err)
	}
	defer windows.CloseHandle(ev)

	buf := make([]byte, bufferSize)
	var overlapped windows.Overlapped
	overlapped.HEvent = ev
	var n uint32
	err = windows.ReadFile(h, buf, &n, &overlapped)
	if err != nil && err != windows.ERROR_IO_PENDING {
		return nil, fmt.Errorf("%w: %s", ErrReadFailed, err)
	}
	if err == windows.ERROR_IO_PENDING {
		wait := uint32(windows.INFINITE)
		if timeoutMS >= 0 {
			wait = uint32(timeoutMS)
		}
		waitRes, werr := windows.WaitForSingleObject(ev, wait)
		if werr != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadFailed, werr)
		}
		if waitRes == uint32(windows.WAIT_TIMEOUT) {
			windows.CancelIoEx(h, &overlapped)
			return nil, ErrTimeout
		}
		if gerr := windows.GetOverlappedResult(h, &overlapped, &n, false); gerr != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadFailed, gerr)
		}
	}

	return buf[:n], nil
}

// Write performs a single overlapped write of the entire byte string,
// blocking until it completes. Partial-write handling is left to the
// caller.
func (s *Socket) Write(b []byte) (int, error) {
	if s == nil {
		return 0, ErrSocketIsNil
	}
	s.mu.Lock()
	closed := s.closed
	h := s.handle
	s.mu.Unlock()
	if closed {
		return 0, ErrSocketClosed
	}

	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrWriteFailed, err)
	}
	defer windows.CloseHandle(ev)

	var overlapped windows.Overlapped
	overlapped.HEvent = ev
	var n uint32
	err = windows.WriteFile(h, b, &n, &overlapped)
	if err != nil && err != windows.ERROR_IO_PENDING {
		return 0, fmt.Errorf("%w: %s", ErrWriteFailed, err)
	}
	if err == windows.ERROR_IO_PENDING {
		if _, werr := windows.WaitForSingleObject(ev, windows.INFINITE); werr != nil {
			return 0, fmt.Errorf("%w: %s", ErrWriteFailed, werr)
		}
		if gerr := windows.GetOverlappedResult(h, &overlapped, &n, false); gerr != nil {
			return int(n), fmt.Errorf("%w: %s", ErrWriteFailed, gerr)
		}
	}
	return int(n), nil
}

// IsNonblocking reports whether the socket is currently in non-blocking
// mode. Always false for server-owned sockets: named pipe instances are
// always created with FILE_FLAG_OVERLAPPED, and blocking/non-blocking
// toggling on Windows is a caller-side wait policy, not a handle flag.
func (s *Socket) IsNonblocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonblocking
}

// SetNonblocking records the flag that IsNonblocking reports. Read does not
// consult it: how long a Read waits is set only by ReadOptions.Timeout.
// Rejected for server-owned sockets: their wait policy is managed by the
// server's tick.
func (s *Socket) SetNonblocking(flag bool) error {
	if s == nil {
		return ErrSocketIsNil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serverOwned {
		return ErrServerOwnedSocket
	}
	if s.closed {
		return ErrSocketClosed
	}
	s.nonblocking = flag
	return nil
}

// PeerName returns the resolved pipe path this endpoint is connected to.
// Windows named pipes have no peer-address concept analogous to
// getpeername(2); the path is the closest equivalent and is reported
// unconditionally rather than queried from the kernel.
func (s *Socket) PeerName() (string, error) {
	if s == nil {
		return "", ErrSocketIsNil
	}
	s.mu.Lock()
	closed := s.closed
	path := s.path
	s.mu.Unlock()
	if closed {
		return "", ErrSocketClosed
	}
	return path, nil
}

// Close idempotently releases this endpoint. A caller-owned connection's
// handle is closed outright; a server-owned instance is disconnected so the
// Server can reuse it for the next client, rather than destroyed.
func (s *Socket) Close() error {
	if s == nil {
		return ErrSocketIsNil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.serverOwned {
		return disconnectNamedPipe(s.handle)
	}
	return windows.CloseHandle(s.handle)
}

// markClosed records this endpoint as closed without performing the
// underlying disconnect, for use by the Server's own teardown path, which
// has already disconnected the pipe instance itself.
func (s *Socket) markClosed() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
