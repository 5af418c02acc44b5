//go:build !windows

package localipc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Socket is a handle wrapping one OS stream endpoint: either a caller-owned
// connection created by Connect, or a server-owned endpoint materialized by
// a Server's accept path. serverOwned endpoints reject SetNonblocking.
type Socket struct {
	mu          sync.Mutex
	fd          int
	serverOwned bool
	closed      bool
	nonblocking bool
}

func newServerOwnedSocket(fd int) *Socket {
	return &Socket{fd: fd, serverOwned: true}
}

// id returns the stable identifier used as the clients-by-id map key: the
// file descriptor, for the duration of this client's session.
func (s *Socket) id() int { return s.fd }

// Connect opens a caller-owned connection to the local socket at path.
func Connect(path string) (*Socket, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFailedToConnect, err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: resolved}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s", ErrFailedToConnect, err)
	}
	return &Socket{fd: fd}, nil
}

// Read performs a single read of up to opts.BufferSize bytes (default
// DefaultBufferSize). If opts.Timeout (default: indefinite) is >= 0, Read
// waits up to that many milliseconds for readiness before attempting the
// read, returning ErrTimeout if nothing became ready in time.
func (s *Socket) Read(opts *ReadOptions) ([]byte, error) {
	if s == nil {
		return nil, ErrSocketIsNil
	}
	s.mu.Lock()
	closed := s.closed
	fd := s.fd
	s.mu.Unlock()
	if closed {
		return nil, ErrSocketClosed
	}

	bufferSize, timeoutMS := readDefaults(opts)

	if timeoutMS >= 0 {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, timeoutMS)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadFailed, err)
		}
		if n == 0 {
			return nil, ErrTimeout
		}
	}

	buf := make([]byte, bufferSize)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadFailed, err)
	}
	return buf[:n], nil
}

// Write performs a single synchronous write of the entire byte string.
// Partial-write handling is left to the caller: this issues exactly one
// write(2) and does not loop to complete a short write.
func (s *Socket) Write(b []byte) (int, error) {
	if s == nil {
		return 0, ErrSocketIsNil
	}
	s.mu.Lock()
	closed := s.closed
	fd := s.fd
	s.mu.Unlock()
	if closed {
		return 0, ErrSocketClosed
	}
	n, err := unix.Write(fd, b)
	if err != nil {
		return n, fmt.Errorf("%w: %s", ErrWriteFailed, err)
	}
	return n, nil
}

// IsNonblocking reports the mode last set through SetNonblocking; it does
// not query the fd. Always false for server-owned sockets, even though the
// server accepts them with O_NONBLOCK set.
func (s *Socket) IsNonblocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonblocking
}

// SetNonblocking toggles the O_NONBLOCK flag. Rejected for server-owned
// sockets: their blocking mode is managed by the server's slot.
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
	if err := unix.SetNonblock(s.fd, flag); err != nil {
		return fmt.Errorf("%w: %s", ErrSetStateFailed, err)
	}
	s.nonblocking = flag
	return nil
}

// PeerName returns the path of the socket this endpoint is connected to, as
// reported by the kernel.
func (s *Socket) PeerName() (string, error) {
	if s == nil {
		return "", ErrSocketIsNil
	}
	s.mu.Lock()
	closed := s.closed
	fd := s.fd
	s.mu.Unlock()
	if closed {
		return "", ErrSocketClosed
	}
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrStateCheckFailed, err)
	}
	if un, ok := sa.(*unix.SockaddrUnix); ok {
		return un.Name, nil
	}
	return "", nil
}

// Close idempotently releases the OS handle.
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
	return unix.Close(s.fd)
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
