package osdp

import "bytes"

// memoryChannel is an in-memory loopback channel pair for tests, the moral
// equivalent of a serial null modem cable.
type memoryChannel struct {
	id int
	tx *bytes.Buffer
	rx *bytes.Buffer
}

// newMemoryChannelPair returns the two ends of a bidirectional in-memory
// channel.
func newMemoryChannelPair() (*memoryChannel, *memoryChannel) {
	a2b := &bytes.Buffer{}
	b2a := &bytes.Buffer{}
	a := &memoryChannel{id: 0, tx: a2b, rx: b2a}
	b := &memoryChannel{id: 1, tx: b2a, rx: a2b}
	return a, b
}

func (c *memoryChannel) ID() int { return c.id }

func (c *memoryChannel) Read(p []byte) (int, error) {
	if c.rx.Len() == 0 {
		return 0, ErrWouldBlock
	}
	return c.rx.Read(p)
}

func (c *memoryChannel) Write(p []byte) (int, error) {
	return c.tx.Write(p)
}

func (c *memoryChannel) Flush() error { return nil }

// deadChannel accepts writes and never produces data; used for offline
// detection tests.
type deadChannel struct{}

func (deadChannel) ID() int                     { return 7 }
func (deadChannel) Read(p []byte) (int, error)  { return 0, ErrWouldBlock }
func (deadChannel) Write(p []byte) (int, error) { return len(p), nil }
func (deadChannel) Flush() error                { return nil }
