// Package localipc provides a bidirectional byte-stream transport between
// processes on one host: Unix domain sockets on Unix, named pipes on
// Windows. A Server multiplexes many concurrent clients over a single,
// caller-driven event-loop tick (ProcessEvents); Connect opens a plain
// caller-owned connection to either endpoint. Neither side runs its own
// goroutines or threads — all I/O happens synchronously inside whichever
// call the embedder makes.
package localipc
