package mavconform

import (
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/go-cmp/cmp"
)

const (
	// defaultHeartbeatTimeout bounds the wait for the peer's handshake.
	defaultHeartbeatTimeout = 5 * time.Second
	// defaultReceiveTimeout bounds the wait for each echoed message.
	defaultReceiveTimeout = 5 * time.Second
	// defaultExitGrace bounds each stage of server shutdown: the voluntary
	// exit after the connection closes and the exit after SIGTERM.
	defaultExitGrace = time.Second
)

// Session drives one conformance run: it launches the server binary under
// test, completes the heartbeat handshake and verifies an encode/decode
// round trip for every message type the dialect declares. Any anomaly is
// fatal for the run; nothing is retried.
type Session struct {
	ServerPath string
	Dialect    *Dialect

	// Rand drives message synthesis. Seed it explicitly for reproducible
	// runs.
	Rand *rand.Rand
	// Transmission and progress logger.
	Logger logger

	HeartbeatTimeout time.Duration
	ReceiveTimeout   time.Duration
	ExitGrace        time.Duration

	// command builds the server invocation. Tests substitute a helper
	// process here.
	command func(name string, arg ...string) *exec.Cmd
}

// NewSession returns a session with the conventional timeouts.
func NewSession(serverPath string, d *Dialect) *Session {
	return &Session{
		ServerPath:       serverPath,
		Dialect:          d,
		Rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
		HeartbeatTimeout: defaultHeartbeatTimeout,
		ReceiveTimeout:   defaultReceiveTimeout,
		ExitGrace:        defaultExitGrace,
		command:          exec.Command,
	}
}

// Run executes the whole session: listen, launch, handshake, verify every
// message type, tear down. Teardown always runs; a verification failure
// takes precedence over an exit-code failure in the returned error.
func (s *Session) Run() error {
	// Listening before the server is launched closes the window in which
	// the server's outward connection could race the bind.
	ln, err := Listen(s.Dialect, "127.0.0.1:0")
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", ln.Port())

	cmd := s.command(s.ServerPath, "--dialect", s.Dialect.Name, "--address", "tcpout:"+addr)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ln.Close()
		return fmt.Errorf("mavconform: starting server '%s': %w", s.ServerPath, err)
	}

	runErr := s.drive(ln)
	exitErr := s.awaitExit(cmd)
	if runErr != nil {
		return runErr
	}
	return exitErr
}

// drive owns the listener and the accepted connection; both are released on
// every exit path so the server observes EOF and can exit.
func (s *Session) drive(ln *Listener) error {
	defer ln.Close()

	conn, err := ln.Accept(s.HeartbeatTimeout)
	if err != nil {
		if isTimeout(err) {
			return &ErrTimeout{Expected: heartbeatMessage, Wait: s.HeartbeatTimeout}
		}
		return err
	}
	defer conn.Close()
	conn.Logger = s.Logger

	if _, err := conn.WaitHeartbeat(s.HeartbeatTimeout); err != nil {
		return err
	}
	if err := conn.SendHeartbeat(); err != nil {
		return err
	}

	for _, msg := range s.Dialect.Messages {
		if err := s.verify(conn, msg); err != nil {
			return err
		}
	}
	return nil
}

// verify proves one message type survives the round trip: it synthesizes an
// instance, sends it, and compares the echoed canonical form against the
// canonical form of a local encode/decode of the same instance. The local
// pass validates the encoder against itself; the echoed form validates the
// full network and remote re-encode path.
func (s *Session) verify(conn *Conn, msg *Message) error {
	values, err := Synthesize(s.Rand, s.Dialect, msg)
	if err != nil {
		return err
	}
	if err := conn.Send(msg, values); err != nil {
		return err
	}
	s.logf("mavconform: sent %s", msg.Name)

	received, receivedValues, err := conn.Recv(s.ReceiveTimeout)
	if err != nil {
		if isTimeout(err) {
			return &ErrTimeout{Expected: msg.Name, Wait: s.ReceiveTimeout}
		}
		return fmt.Errorf("mavconform: receiving %s: %w", msg.Name, err)
	}

	local := &Codec{Dialect: s.Dialect, SystemID: defaultSystemID, ComponentID: defaultComponentID}
	frame, err := local.Encode(msg, values)
	if err != nil {
		return err
	}
	_, sentValues, err := local.Decode(frame)
	if err != nil {
		return err
	}

	if received.Name != msg.Name || !cmp.Equal(sentValues, receivedValues) {
		return &ErrMismatch{
			Expected: msg.Name,
			Actual:   received.Name,
			Sent:     sentValues,
			Received: receivedValues,
			Diff:     cmp.Diff(sentValues, receivedValues),
		}
	}
	return nil
}

// awaitExit reaps the server process: a grace period for voluntary exit,
// then SIGTERM and another grace period, then SIGKILL.
func (s *Session) awaitExit(cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return exitError(err)
	case <-time.After(s.ExitGrace):
	}

	// Signal errors are ignored: the process may have exited between the
	// grace timeout and the signal, in which case done fires immediately.
	s.logf("mavconform: server still running, sending SIGTERM")
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case err := <-done:
		return exitError(err)
	case <-time.After(s.ExitGrace):
	}

	s.logf("mavconform: server ignored SIGTERM, killing")
	_ = cmd.Process.Kill()
	<-done
	return fmt.Errorf("mavconform: server did not exit within the grace period")
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	if exit, ok := err.(*exec.ExitError); ok {
		return ErrServerExit(exit.ExitCode())
	}
	return fmt.Errorf("mavconform: waiting for server: %w", err)
}

func (s *Session) logf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}
