//go:build windows

package localipc

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	pipeOpenMode   = windows.PIPE_ACCESS_DUPLEX | windows.FILE_FLAG_OVERLAPPED
	// Message-capable pipes read in byte mode: PIPE_TYPE_MESSAGE preserves
	// message boundaries as written, but PIPE_READMODE_BYTE reads them back
	// as an undifferentiated byte stream, matching this transport's raw
	// byte-stream contract with no framing layered on top.
	pipeMode = windows.PIPE_TYPE_MESSAGE | windows.PIPE_READMODE_BYTE | windows.PIPE_WAIT
	maxWaitHandles = windows.MAXIMUM_WAIT_OBJECTS
)

type instanceState int

const (
	stateConnecting instanceState = iota
	stateConnected
)

// pipeInstance is one named pipe instance: either listening for a client
// (stateConnecting, overlapped ConnectNamedPipe outstanding) or serving one
// (stateConnected, overlapped ReadFile outstanding). Unlike the Unix
// listener/data-socket split, a single Windows pipe instance plays both
// roles over its lifetime, matching pipe.go's win32PipeListener model but
// folded into the single-tick Server instead of a goroutine pool.
type pipeInstance struct {
	handle     windows.Handle
	event      windows.Handle
	overlapped windows.Overlapped
	state      instanceState
	readBuf    []byte
	client     *Socket
}

// Server multiplexes many concurrent named pipe clients over a single
// event-loop tick, using one pipe instance per client slot and overlapped
// I/O harvested with WaitForMultipleObjects; grounded on pipe.go's
// makeServerPipeHandle and hvsock.go's prepareIo/asyncIo overlapped-completion
// pattern.
type Server struct {
	mu sync.Mutex

	path       string
	maxClients int
	bufferSize int
	closed     bool
	sd         []byte

	listenHandle windows.Handle // identity for Equal/String; first instance's handle

	instances   []*pipeInstance
	clientsByID map[uintptr]*Socket
}

// Listen creates a Server listening on the named pipe at path (auto-prefixed
// with \\.\pipe\ if needed). opts may be nil to select the defaults; a
// non-empty opts.SecurityDescriptor (SDDL) is converted once here via
// SddlToSecurityDescriptor and applied to every pipe instance. Every one of
// max_clients instances is created and armed with an outstanding
// ConnectNamedPipe up front, so the server is at full accept capacity
// before Listen returns.
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

	var sd []byte
	if o.SecurityDescriptor != "" {
		sd, err = SddlToSecurityDescriptor(o.SecurityDescriptor)
		if err != nil {
			return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
		}
	}

	s := &Server{
		path:        resolved,
		maxClients:  o.MaxClients,
		bufferSize:  o.BufferSize,
		sd:          sd,
		clientsByID: make(map[uintptr]*Socket),
	}

	for i := 0; i < o.MaxClients; i++ {
		inst, err := s.newInstance(i == 0)
		if err != nil {
			s.closeInstances()
			return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
		}
		if i == 0 {
			s.listenHandle = inst.handle
		}
		s.instances = append(s.instances, inst)

		if err := s.armInstance(inst); err != nil {
			s.closeInstances()
			return nil, errors.Wrap(ErrFailedToCreateServerInstance, err.Error())
		}
	}

	return s, nil
}

// closeInstances releases every instance's handle and event. Used both by
// Listen to unwind a partially constructed pool on failure and by Close.
func (s *Server) closeInstances() {
	for _, inst := range s.instances {
		windows.CloseHandle(inst.handle)
		windows.CloseHandle(inst.event)
	}
	s.instances = nil
}

// newInstance creates one CreateNamedPipeW instance with its own manual-
// reset event for overlapped completion. first controls FILE_FLAG_FIRST_PIPE_INSTANCE.
func (s *Server) newInstance(first bool) (*pipeInstance, error) {
	namePtr, err := windows.UTF16PtrFromString(s.path)
	if err != nil {
		return nil, err
	}

	openMode := uint32(pipeOpenMode)
	if first {
		openMode |= windows.FILE_FLAG_FIRST_PIPE_INSTANCE
	}

	var sa *windows.SecurityAttributes
	if len(s.sd) > 0 {
		sa = &windows.SecurityAttributes{
			Length:             uint32(unsafe.Sizeof(windows.SecurityAttributes{})),
			SecurityDescriptor: uintptr(unsafe.Pointer(&s.sd[0])),
		}
	}

	h, err := createNamedPipe(namePtr, openMode, uint32(pipeMode), uint32(s.maxClients),
		uint32(s.bufferSize), uint32(s.bufferSize), windowsConnectTimeoutMS, sa)
	if err != nil {
		return nil, err
	}

	ev, err := windows.CreateEvent(nil, 1 /* manual reset */, 0, nil)
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	return &pipeInstance{handle: h, event: ev, state: stateConnecting, readBuf: make([]byte, s.bufferSize)}, nil
}

// armInstance issues (or re-issues) the overlapped ConnectNamedPipe for an
// idle instance, tolerating the synchronous ERROR_PIPE_CONNECTED case.
func (s *Server) armInstance(inst *pipeInstance) error {
	inst.state = stateConnecting
	inst.overlapped = windows.Overlapped{HEvent: inst.event}
	windows.ResetEvent(inst.event)

	err := connectNamedPipe(inst.handle, &inst.overlapped)
	if err == nil {
		// Client connected synchronously; event won't fire on its own, so
		// set it so the next wait observes completion immediately.
		windows.SetEvent(inst.event)
		return nil
	}
	if err == windows.ERROR_PIPE_CONNECTED {
		windows.SetEvent(inst.event)
		return nil
	}
	if err == windows.ERROR_IO_PENDING || err == errERROR_IO_PENDING {
		return nil
	}
	return err
}

// ProcessEvents waits once on every pipe instance's overlapped completion
// event via WaitForMultipleObjects, bounded by cb.Timeout (0 if cb is nil,
// matching the "no options table" case of the original C server), then
// scans every instance and harvests each one whose event is actually
// signaled: accept phase for connecting instances, data phase for connected
// ones. Draining every ready instance in one tick, not just the one
// WaitForMultipleObjects happens to report, mirrors the two explicit
// connect/data scan loops in the original.
func (s *Server) ProcessEvents(cb *Callbacks) (bool, error) {
	if s == nil {
		return false, ErrServerIsNil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrServerClosed
	}
	instances := append([]*pipeInstance(nil), s.instances...)
	s.mu.Unlock()

	if len(instances) == 0 {
		return true, nil
	}
	if len(instances) > maxWaitHandles {
		instances = instances[:maxWaitHandles]
	}

	events := make([]windows.Handle, len(instances))
	for i, inst := range instances {
		events[i] = inst.event
	}

	var timeoutMS uint32
	if cb != nil {
		if cb.Timeout < 0 {
			timeoutMS = windows.INFINITE
		} else {
			timeoutMS = uint32(cb.Timeout)
		}
	}

	_, err := windows.WaitForMultipleObjects(events, false, timeoutMS)
	if err == windows.WAIT_TIMEOUT {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrPollFailed, err)
	}

	for _, inst := range instances {
		signal, werr := windows.WaitForSingleObject(inst.event, 0)
		if werr != nil || signal != windows.WAIT_OBJECT_0 {
			continue
		}
		windows.ResetEvent(inst.event)
		switch inst.state {
		case stateConnecting:
			s.handleConnectCompletion(cb, inst)
		case stateConnected:
			s.handleReadCompletion(cb, inst)
		}
	}

	return true, nil
}

// handleConnectCompletion harvests a completed ConnectNamedPipe. There is no
// client-limit check here: unlike the Unix listen backlog, a Windows pipe
// instance only ever exists if it was one of the max_clients instances
// created by Listen, so acceptance is already capacity-bounded by
// construction.
func (s *Server) handleConnectCompletion(cb *Callbacks, inst *pipeInstance) {
	var n uint32
	if err := windows.GetOverlappedResult(inst.handle, &inst.overlapped, &n, false); err != nil && err != windows.ERROR_PIPE_CONNECTED {
		cb.reportError("accept", fmt.Errorf("%w: %s", ErrFailedToCreateSocketInstance, err), nil)
		s.rearm(cb, inst)
		return
	}

	client := newServerOwnedSocket(inst.handle, s.path)
	if !invokeAccept(cb, client) {
		disconnectNamedPipe(inst.handle)
		s.rearm(cb, inst)
		return
	}

	inst.state = stateConnected
	inst.client = client

	s.mu.Lock()
	s.clientsByID[uintptr(inst.handle)] = client
	s.mu.Unlock()

	s.issueRead(cb, inst)
}

func (s *Server) issueRead(cb *Callbacks, inst *pipeInstance) {
	inst.overlapped = windows.Overlapped{HEvent: inst.event}
	windows.ResetEvent(inst.event)
	var n uint32
	err := windows.ReadFile(inst.handle, inst.readBuf, &n, &inst.overlapped)
	if err == nil {
		// Completed synchronously; signal so the next wait observes it.
		windows.SetEvent(inst.event)
		return
	}
	if err == windows.ERROR_BROKEN_PIPE {
		s.teardown(cb, inst, nil)
		return
	}
	if err != windows.ERROR_IO_PENDING {
		s.teardown(cb, inst, fmt.Errorf("%w: %s", ErrReadFailed, err))
	}
}

func (s *Server) handleReadCompletion(cb *Callbacks, inst *pipeInstance) {
	var n uint32
	err := windows.GetOverlappedResult(inst.handle, &inst.overlapped, &n, false)
	switch {
	case err == nil && n > 0:
		data := make([]byte, n)
		copy(data, inst.readBuf[:n])
		invokeData(cb, inst.client, data)
		s.issueRead(cb, inst)
	case err == nil || err == windows.ERROR_BROKEN_PIPE:
		s.teardown(cb, inst, nil)
	default:
		s.teardown(cb, inst, fmt.Errorf("%w: %s", ErrReadFailed, err))
	}
}

// teardown disconnects and tears down a connected instance, invoking
// disconnected exactly once whether the termination was clean (readErr nil)
// or a read failure, mirroring the Unix teardownSlot decision.
func (s *Server) teardown(cb *Callbacks, inst *pipeInstance, readErr error) {
	if readErr != nil {
		cb.reportError("read", readErr, inst.client)
	}
	invokeDisconnected(cb, inst.client)

	s.mu.Lock()
	delete(s.clientsByID, uintptr(inst.handle))
	s.mu.Unlock()

	inst.client.markClosed()
	disconnectNamedPipe(inst.handle)
	s.rearm(cb, inst)
}

// rearm returns an instance to the connecting pool for reuse. A re-arm
// failure is reported once to the error callback and is not retried on
// later ticks: the instance stays in the pool, counting toward max_clients,
// but accepts no further client until the server closes.
func (s *Server) rearm(cb *Callbacks, inst *pipeInstance) {
	inst.client = nil
	if err := s.armInstance(inst); err != nil {
		cb.reportError("internal", fmt.Errorf("%w: %s", ErrFailedToRecreatePipe, err), nil)
	}
}

// Close idempotently releases all OS resources. If closeClients is true,
// every tracked client endpoint is closed too, swallowing per-client errors.
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
		for _, inst := range s.instances {
			if inst.state != stateConnected {
				continue
			}
			func() {
				defer func() { recover() }()
				inst.client.Close()
			}()
		}
	}

	// Every instance's handle is always ours to release here, whether or
	// not its client was separately notified above: Socket.Close on a
	// server-owned endpoint only disconnects the pipe, it never closes the
	// instance handle itself.
	s.closeInstances()
	s.clientsByID = make(map[uintptr]*Socket)

	return nil
}

// GetClients returns a shallow copy of the clients-by-id map.
func (s *Server) GetClients() map[uintptr]*Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uintptr]*Socket, len(s.clientsByID))
	for k, v := range s.clientsByID {
		out[k] = v
	}
	return out
}

// GetClientLimit returns max_clients.
func (s *Server) GetClientLimit() int { return s.maxClients }

// SecurityDescriptor returns the SDDL form of the security descriptor
// applied to this server's pipe instances, or "" if ListenOptions never set
// one.
func (s *Server) SecurityDescriptor() (string, error) {
	s.mu.Lock()
	sd := s.sd
	s.mu.Unlock()
	if len(sd) == 0 {
		return "", nil
	}
	return SecurityDescriptorToSddl(sd)
}

// Equal reports whether two server handles share the same OS listening
// identity.
func (s *Server) Equal(other *Server) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.listenHandle == other.listenHandle
}

func (s *Server) String() string {
	return fmt.Sprintf("localipc.Server{path=%s handle=%d}", s.path, s.listenHandle)
}
