package localipc

const (
	// DefaultMaxClients is used when ListenOptions.MaxClients is <= 0.
	DefaultMaxClients = 5

	// DefaultBufferSize is used when ListenOptions.BufferSize is < 1 and
	// as the default for ReadOptions.BufferSize.
	DefaultBufferSize = 1024

	// windowsConnectTimeoutMS is the fixed timeout a client waits for a
	// busy named pipe to free up before giving up.
	windowsConnectTimeoutMS = 5000
)

// ListenOptions configures a Listen call. The zero value selects the
// defaults (DefaultMaxClients, DefaultBufferSize). Unknown fields carried
// by an embedder through some other mechanism are simply ignored, since
// this is a plain Go struct rather than a loosely typed options bag.
type ListenOptions struct {
	// MaxClients is the hard upper bound on concurrent clients. Fixed at
	// construction. Defaults to DefaultMaxClients when <= 0.
	MaxClients int

	// BufferSize is the per-read byte buffer size. Fixed at construction.
	// Defaults to DefaultBufferSize when < 1.
	BufferSize int

	// SecurityDescriptor holds a Windows security descriptor in SDDL format,
	// applied to every pipe instance via SddlToSecurityDescriptor. Ignored
	// on Unix, where socket file permissions are set by umask instead.
	SecurityDescriptor string
}

func (o ListenOptions) normalized() ListenOptions {
	if o.MaxClients <= 0 {
		o.MaxClients = DefaultMaxClients
	}
	if o.BufferSize < 1 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

// AcceptFunc is invoked when a new client connects. Returning false vetoes
// admission; the endpoint is torn down and never reaches the clients map.
// A panic is treated identically to a veto and is also routed to the error
// callback.
type AcceptFunc func(client *Socket) bool

// DataFunc is invoked once per read that returned a non-empty byte slice.
type DataFunc func(client *Socket, data []byte)

// DisconnectedFunc is invoked exactly once per accepted client, after its
// last DataFunc invocation, when the peer disconnects.
type DisconnectedFunc func(client *Socket)

// ErrorFunc receives failures that occur during a tick rather than
// propagating out of ProcessEvents. phase is one of "accept", "read",
// "data", "disconnected", "internal". client is nil when the failure is not
// attributable to one connection (e.g. a limit refusal before admission).
type ErrorFunc func(phase string, err error, client *Socket)

// Callbacks is the callback table passed to ProcessEvents. Every field is
// optional; a nil callback is simply not invoked.
type Callbacks struct {
	Accept       AcceptFunc
	Data         DataFunc
	Disconnected DisconnectedFunc
	Error        ErrorFunc

	// Timeout bounds the tick's wait phase, in milliseconds. 0 returns
	// immediately if nothing is ready. A negative value waits indefinitely
	// on both platforms.
	Timeout int
}

func (cb *Callbacks) reportError(phase string, err error, client *Socket) {
	if cb == nil || cb.Error == nil || err == nil {
		return
	}
	defer func() { recover() }() //nolint:errcheck // the error callback must never bring down a tick
	cb.Error(phase, err, client)
}

// ReadOptions configures a client-side Read call. A nil *ReadOptions
// passed to Read selects the defaults: DefaultBufferSize and an
// indefinite wait. Passing a non-nil &ReadOptions{} makes the zero
// Timeout explicit (return immediately if nothing is ready) rather than
// implicitly meaning "use the default", since the default is "block
// indefinitely" and 0 is a meaningful non-blocking request in its own
// right.
type ReadOptions struct {
	// BufferSize bounds the number of bytes read in one call. Defaults to
	// DefaultBufferSize when < 1.
	BufferSize int

	// Timeout, in milliseconds, bounds how long Read waits for readiness
	// before returning ErrTimeout. Negative waits indefinitely.
	Timeout int
}

func readDefaults(opts *ReadOptions) (bufferSize, timeoutMS int) {
	bufferSize, timeoutMS = DefaultBufferSize, -1
	if opts == nil {
		return bufferSize, timeoutMS
	}
	if opts.BufferSize >= 1 {
		bufferSize = opts.BufferSize
	}
	timeoutMS = opts.Timeout
	return bufferSize, timeoutMS
}
