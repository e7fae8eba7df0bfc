package osdp

import "errors"

// Channel errors. Implementations should map their transport's "no data
// right now" condition to ErrWouldBlock; everything else is ErrTransport.
var (
	// ErrWouldBlock means the channel is temporarily unavailable. The engine
	// treats this as "nothing to do" and never surfaces it to the
	// application.
	ErrWouldBlock = errors.New("osdp: channel would block")

	// ErrTransport means the channel failed irrecoverably.
	ErrTransport = errors.New("osdp: channel transport error")
)

// Channel is a stream based connection between two OSDP devices.
//
// The OSDP specification runs over RS-485, but any transport that can move
// bytes works: serial ports, Unix sockets, in-memory buffers. Channels can
// be multi-drop (more than one PD behind one physical link), so every
// channel carries an integer ID that must be unique among the channels of a
// single device context.
//
// Read and Write must be non-blocking: when no progress can be made they
// return ErrWouldBlock instead of waiting.
type Channel interface {
	// ID returns the unique identity of this channel.
	ID() int

	// Read pulls as many bytes into p as are available and returns the
	// number of bytes read, or ErrWouldBlock when no bytes are pending.
	Read(p []byte) (int, error)

	// Write pushes len(p) bytes to the transport and returns the number of
	// bytes accepted, or ErrWouldBlock when the transport cannot take any.
	Write(p []byte) (int, error)

	// Flush drops any buffered but unsent bytes.
	Flush() error
}
