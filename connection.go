package mavconform

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

const (
	// Default connect/accept timeout.
	connectTimeout = 10 * time.Second
	// Default serial read timeout.
	serialTimeout = 5 * time.Second

	// defaultSystemID is the source system id this side reports. 255 is the
	// conventional id for a ground-control style peer.
	defaultSystemID = 255
	// defaultComponentID is the source component id this side reports.
	defaultComponentID = 0
)

// heartbeatMessage is the handshake message every MAVLink session opens
// with.
const heartbeatMessage = "HEARTBEAT"

// heartbeatIdentity holds the non-zero HEARTBEAT field values this side
// advertises: an onboard controller with no autopilot, the identity other
// MAVLink implementations expect from a test peer. Fields not listed are
// sent as zero.
var heartbeatIdentity = map[string]uint64{
	"type":            18, // MAV_TYPE_ONBOARD_CONTROLLER
	"autopilot":       8,  // MAV_AUTOPILOT_INVALID
	"mavlink_version": 3,
}

// Conn is one framed MAVLink connection over a byte stream.
type Conn struct {
	// Transmission logger.
	Logger logger

	codec *Codec

	mu  sync.Mutex
	rwc io.ReadWriteCloser
	// nc is set when the stream is a network connection and read deadlines
	// are available. Serial streams bound their reads via the port timeout.
	nc net.Conn
	br *bufio.Reader
}

// Open establishes a connection described by an address of the form
// transport:host:port. Supported transports:
//
//	tcpin:host:port   listen on host:port and accept one inbound connection
//	tcpout:host:port  connect outward to host:port
//	serial:device:baud  open a local serial device
func Open(d *Dialect, address string) (*Conn, error) {
	scheme, rest, err := splitAddress(address)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "tcpin":
		ln, err := Listen(d, rest)
		if err != nil {
			return nil, err
		}
		defer ln.Close()
		return ln.Accept(connectTimeout)
	case "tcpout":
		conn, err := net.DialTimeout("tcp", rest, connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("mavconform: connecting to '%s': %w", rest, err)
		}
		return newConn(d, conn, conn), nil
	case "serial":
		device, baud, err := splitSerial(rest)
		if err != nil {
			return nil, err
		}
		port, err := serial.Open(&serial.Config{
			Address:  device,
			BaudRate: baud,
			Timeout:  serialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("mavconform: opening serial device '%s': %w", device, err)
		}
		return newConn(d, port, nil), nil
	default:
		return nil, fmt.Errorf("mavconform: unsupported transport '%s'", scheme)
	}
}

func splitAddress(address string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(address, ":")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("mavconform: malformed address '%s'", address)
	}
	return scheme, rest, nil
}

func splitSerial(rest string) (device string, baud int, err error) {
	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 {
		return "", 0, fmt.Errorf("mavconform: malformed serial address '%s'", rest)
	}
	baud, err = strconv.Atoi(rest[idx+1:])
	if err != nil || baud <= 0 {
		return "", 0, fmt.Errorf("mavconform: malformed baud rate in '%s'", rest)
	}
	return rest[:idx], baud, nil
}

func newConn(d *Dialect, rwc io.ReadWriteCloser, nc net.Conn) *Conn {
	return &Conn{
		codec: &Codec{
			Dialect:     d,
			SystemID:    defaultSystemID,
			ComponentID: defaultComponentID,
		},
		rwc: rwc,
		nc:  nc,
		br:  bufio.NewReader(rwc),
	}
}

// Listener accepts one framed connection on a bound TCP port.
type Listener struct {
	dialect *Dialect
	ln      net.Listener
}

// Listen binds a TCP listener for the tcpin transport role. Binding to port
// 0 allocates an ephemeral port; Port reports the one chosen.
func Listen(d *Dialect, hostport string) (*Listener, error) {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("mavconform: listening on '%s': %w", hostport, err)
	}
	return &Listener{dialect: d, ln: ln}, nil
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Accept waits for one inbound connection.
func (l *Listener) Accept(timeout time.Duration) (*Conn, error) {
	if tcp, ok := l.ln.(*net.TCPListener); ok && timeout > 0 {
		if err := tcp.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("mavconform: accepting connection: %w", err)
	}
	return newConn(l.dialect, conn, conn), nil
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Send encodes and transmits one message instance.
func (c *Conn) Send(msg *Message, values map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := c.codec.Encode(msg, values)
	if err != nil {
		return err
	}
	if c.nc != nil {
		if err := c.nc.SetWriteDeadline(time.Now().Add(connectTimeout)); err != nil {
			return err
		}
	}
	c.logf("mavconform: send % x", frame)
	if _, err := c.rwc.Write(frame); err != nil {
		return fmt.Errorf("mavconform: sending %s: %w", msg.Name, err)
	}
	return nil
}

// Recv blocks until the next inbound message arrives or the timeout
// expires. An expired timeout surfaces as a net.Error; io.EOF is returned
// unwrapped when the peer closes the connection between frames.
func (c *Conn) Recv(timeout time.Duration) (*Message, map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.recv(timeout)
}

func (c *Conn) recv(timeout time.Duration) (*Message, map[string]any, error) {
	if c.nc != nil {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := c.nc.SetReadDeadline(deadline); err != nil {
			return nil, nil, err
		}
	}
	frame, err := readFrame(c.br)
	if err != nil {
		return nil, nil, err
	}
	c.logf("mavconform: recv % x", frame)
	return c.codec.Decode(frame)
}

// WaitHeartbeat blocks until the peer's HEARTBEAT arrives, discarding any
// other traffic, and returns its canonical form. The timeout bounds the
// whole wait.
func (c *Conn) WaitHeartbeat(timeout time.Duration) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &ErrTimeout{Expected: heartbeatMessage, Wait: timeout}
		}
		msg, values, err := c.recv(remaining)
		if err != nil {
			if isTimeout(err) {
				return nil, &ErrTimeout{Expected: heartbeatMessage, Wait: timeout}
			}
			return nil, err
		}
		if msg.Name == heartbeatMessage {
			return values, nil
		}
	}
}

// SendHeartbeat announces this side's identity to complete the handshake.
func (c *Conn) SendHeartbeat() error {
	msg, err := c.codec.Dialect.Message(heartbeatMessage)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(msg.Fields))
	for _, f := range msg.Fields {
		v, err := heartbeatValue(f)
		if err != nil {
			return err
		}
		values[f.Name] = v
	}
	return c.Send(msg, values)
}

func heartbeatValue(f Field) (any, error) {
	raw, ok := heartbeatIdentity[f.Name]
	if !ok || f.ArrayLen > 0 {
		return zeroValue(f), nil
	}
	switch f.Type {
	case TypeFloat:
		return float32(raw), nil
	case TypeDouble:
		return float64(raw), nil
	default:
		return enumValue(f.Type, raw)
	}
}

// zeroValue builds the canonical zero for a field.
func zeroValue(f Field) any {
	switch {
	case f.ArrayLen > 0 && f.Type == TypeChar:
		return ""
	case f.ArrayLen > 0:
		elems := make([]any, f.ArrayLen)
		for i := range elems {
			elems[i] = getScalar(make([]byte, f.Type.Size()), f.Type)
		}
		return elems
	default:
		return getScalar(make([]byte, f.Type.Size()), f.Type)
	}
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rwc.Close()
}

func (c *Conn) logf(format string, v ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, v...)
	}
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
