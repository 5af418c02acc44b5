//go:build !windows

package localipc

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Server multiplexes many concurrent clients over a single event-loop tick,
// on top of a non-blocking Unix stream socket and poll(2).
type Server struct {
	mu sync.Mutex

	path       string
	maxClients int
	bufferSize int
	closed     bool

	listenFD int // immutable identity, used by Equal/String even after close

	// pollFDs[0] is always the listening fd. pollFDs[1:] mirrors slotClient
	// 1:1 by index; both shrink together during compaction.
	pollFDs    []unix.PollFd
	slotClient []*Socket

	clientsByID map[int]*Socket
	clientCount int
}

// Listen creates a Server listening on the Unix stream socket at path. A
// stale socket file at that path is removed first. opts may be nil to
// select the defaults.
func Listen(path string, opts *ListenOptions) (*Server, error) {
	o := ListenOptions{}
	if opts != nil {
		o = *opts
	}
	o = o.normalized()

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if len(resolved) >= maxUnixPathLen {
		return nil, errors.Wrapf(ErrFailedToCreateServerInstance, "path %q exceeds %d bytes", resolved, maxUnixPathLen-1)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
	}

	if err := unix.Unlink(resolved); err != nil && !errors.Is(err, unix.ENOENT) {
		return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: resolved}); err != nil {
		return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
	}

	if err := unix.Listen(fd, o.MaxClients); err != nil {
		return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
	}

	ok = true
	return &Server{
		path:        resolved,
		maxClients:  o.MaxClients,
		bufferSize:  o.BufferSize,
		listenFD:    fd,
		pollFDs:     []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}},
		slotClient:  []*Socket{nil},
		clientsByID: make(map[int]*Socket),
	}, nil
}

// ProcessEvents performs one bounded, non-blocking scan: wait, accept
// phase, data phase, compaction.
func (s *Server) ProcessEvents(cb *Callbacks) (bool, error) {
	if s == nil {
		return false, ErrServerIsNil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrServerClosed
	}
	s.mu.Unlock()

	// A nil cb (no callback table at all) returns immediately rather than
	// blocking, matching the original C server's "no options table" case,
	// where the wait timeout defaults to 0.
	timeoutMS := 0
	if cb != nil {
		timeoutMS = cb.Timeout
	}

	for {
		_, err := unix.Poll(s.pollFDs, timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, fmt.Errorf("%w: %s", ErrPollFailed, err)
		}
		break
	}

	if s.pollFDs[0].Revents&unix.POLLIN != 0 {
		s.acceptPhase(cb)
	}

	s.dataPhase(cb)
	s.compact()

	return true, nil
}

func (s *Server) acceptPhase(cb *Callbacks) {
	for {
		fd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			cb.reportError("accept", fmt.Errorf("%w: %s", ErrFailedToCreateSocketInstance, err), nil)
			return
		}

		if s.clientCount >= s.maxClients {
			cb.reportError("accept", ErrClientLimitReached, nil)
			unix.Close(fd)
			return
		}

		client := newServerOwnedSocket(fd)
		if !invokeAccept(cb, client) {
			unix.Close(fd)
			continue
		}

		s.pollFDs = append(s.pollFDs, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		s.slotClient = append(s.slotClient, client)
		s.clientsByID[fd] = client
		s.clientCount++
	}
}

func (s *Server) dataPhase(cb *Callbacks) {
	buf := make([]byte, s.bufferSize)
	for i := 1; i < len(s.pollFDs); i++ {
		revents := s.pollFDs[i].Revents
		if revents == 0 {
			continue
		}
		client := s.slotClient[i]
		fd := int(s.pollFDs[i].Fd)

		n, err := unix.Read(fd, buf)
		switch {
		case err == nil && n > 0:
			data := make([]byte, n)
			copy(data, buf[:n])
			invokeData(cb, client, data)
		case err == nil && n == 0:
			s.teardownSlot(cb, i, nil)
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// leave in place
		default:
			s.teardownSlot(cb, i, fmt.Errorf("%w: %s", ErrReadFailed, err))
		}
	}
}

// teardownSlot closes a client's fd, removes it from clientsByID, and
// marks the pollFDs slot for compaction. If readErr is nil this is a clean
// disconnect; otherwise it is a read failure, both handled identically.
func (s *Server) teardownSlot(cb *Callbacks, i int, readErr error) {
	client := s.slotClient[i]
	if readErr != nil {
		cb.reportError("read", readErr, client)
	}
	invokeDisconnected(cb, client)
	delete(s.clientsByID, client.id())
	client.Close()
	s.clientCount--
	s.pollFDs[i].Fd = -1
}

// compact shifts the pollFDs/slotClient arrays left to drop entries marked
// Fd == -1 by teardownSlot, preserving relative order of survivors.
func (s *Server) compact() {
	write := 1
	for read := 1; read < len(s.pollFDs); read++ {
		if s.pollFDs[read].Fd == -1 {
			continue
		}
		s.pollFDs[write] = s.pollFDs[read]
		s.slotClient[write] = s.slotClient[read]
		write++
	}
	s.pollFDs = s.pollFDs[:write]
	s.slotClient = s.slotClient[:write]
}

// Close idempotently releases all OS resources. If closeClients is true,
// every tracked client endpoint is closed too, swallowing per-client
// errors.
func (s *Server) Close(closeClients bool) error {
	if s == nil {
		return ErrServerIsNil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if closeClients {
		for _, c := range s.clientsByID {
			func() {
				defer func() { recover() }()
				c.Close()
			}()
		}
	}

	unix.Close(s.listenFD)
	unix.Unlink(s.path)

	s.pollFDs = nil
	s.slotClient = nil
	s.clientsByID = make(map[int]*Socket)
	s.clientCount = 0

	return nil
}

// GetClients returns a shallow copy of the clients-by-id map.
func (s *Server) GetClients() map[int]*Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*Socket, len(s.clientsByID))
	for k, v := range s.clientsByID {
		out[k] = v
	}
	return out
}

// GetClientLimit returns max_clients.
func (s *Server) GetClientLimit() int { return s.maxClients }

// Equal reports whether two server handles share the same OS listening
// identity.
func (s *Server) Equal(other *Server) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.listenFD == other.listenFD
}

func (s *Server) String() string {
	return fmt.Sprintf("localipc.Server{path=%s fd=%d}", s.path, s.listenFD)
}
