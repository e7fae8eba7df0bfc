package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"

	osdp "github.com/goToMain/go-osdp"
)

// openChannel creates the transport behind a channel URL. The id must be
// unique per physical bus within one process; the caller derives it from
// the URL so PDs on one line share a channel.
func openChannel(url string, baudRate, id int) (osdp.Channel, error) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return nil, fmt.Errorf("invalid channel URL %q", url)
	}
	switch scheme {
	case "serial":
		return openSerialChannel(rest, baudRate, id)
	case "unix":
		return newUnixChannel(rest, id), nil
	default:
		return nil, fmt.Errorf("unknown channel scheme %q", scheme)
	}
}

// serialChannel adapts a serial port to the non-blocking Channel contract
// with a near-zero read timeout.
type serialChannel struct {
	id   int
	port serial.Port
}

func openSerialChannel(device string, baudRate, id int) (*serialChannel, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return &serialChannel{id: id, port: port}, nil
}

func (c *serialChannel) ID() int { return c.id }

func (c *serialChannel) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if err != nil {
		return n, osdp.ErrTransport
	}
	if n == 0 {
		// read timeout
		return 0, osdp.ErrWouldBlock
	}
	return n, nil
}

func (c *serialChannel) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *serialChannel) Flush() error {
	return c.port.Drain()
}

func (c *serialChannel) Close() error {
	return c.port.Close()
}

// unixChannel carries frames over a unix domain socket. The PD side
// listens, the CP side connects; whichever side this process runs, the
// channel (re)establishes the connection lazily and never blocks.
type unixChannel struct {
	id     int
	path   string
	listen bool

	ln   *net.UnixListener
	conn net.Conn
}

func newUnixChannel(path string, id int) *unixChannel {
	return &unixChannel{id: id, path: path}
}

// serve switches the channel to the listening role (PD side).
func (c *unixChannel) serve() error {
	_ = os.Remove(c.path)
	addr, err := net.ResolveUnixAddr("unix", c.path)
	if err != nil {
		return err
	}
	c.ln, err = net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	c.listen = true
	return nil
}

// ensure makes the connection live, without blocking. Returns false when
// no peer is there yet.
func (c *unixChannel) ensure() bool {
	if c.conn != nil {
		return true
	}
	if c.listen {
		_ = c.ln.SetDeadline(time.Now())
		conn, err := c.ln.Accept()
		if err != nil {
			return false
		}
		c.conn = conn
		return true
	}
	conn, err := net.DialTimeout("unix", c.path, 10*time.Millisecond)
	if err != nil {
		return false
	}
	c.conn = conn
	return true
}

func (c *unixChannel) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *unixChannel) ID() int { return c.id }

func (c *unixChannel) Read(p []byte) (int, error) {
	if !c.ensure() {
		return 0, osdp.ErrWouldBlock
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := c.conn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, osdp.ErrWouldBlock
		}
		// peer went away; reconnect on a later refresh
		c.drop()
		return n, osdp.ErrWouldBlock
	}
	return n, nil
}

func (c *unixChannel) Write(p []byte) (int, error) {
	if !c.ensure() {
		return 0, osdp.ErrWouldBlock
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	n, err := c.conn.Write(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, osdp.ErrWouldBlock
		}
		c.drop()
		return n, osdp.ErrWouldBlock
	}
	return n, nil
}

func (c *unixChannel) Flush() error { return nil }

func (c *unixChannel) Close() error {
	c.drop()
	if c.ln != nil {
		return c.ln.Close()
	}
	return nil
}
