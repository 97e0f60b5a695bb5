package mavconform

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperSession builds a session whose server binary is this test binary
// re-executed as TestHelperProcess, the stdlib idiom for subprocess tests.
// The helper's behavior is selected through HELPER_MODE.
func helperSession(t *testing.T, mode string) *Session {
	t.Helper()

	s := NewSession("helper", loadTestDialect(t))
	s.Rand = rand.New(rand.NewSource(42))
	s.command = func(_ string, arg ...string) *exec.Cmd {
		args := append([]string{"-test.run=TestHelperProcess", "--"}, arg...)
		cmd := exec.Command(os.Args[0], args...)
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"HELPER_MODE="+mode,
			"HELPER_DIALECT="+filepath.Join("testdata", "test.xml"),
		)
		return cmd
	}
	return s
}

func TestSessionEcho(t *testing.T) {
	s := helperSession(t, "echo")
	assert.NoError(t, s.Run())
}

func TestSessionMismatch(t *testing.T) {
	s := helperSession(t, "corrupt")

	err := s.Run()
	var mismatch *ErrMismatch
	require.ErrorAs(t, err, &mismatch)

	// The first message type in registry order fails the comparison, and
	// the error carries both canonical forms.
	assert.Equal(t, s.Dialect.Messages[0].Name, mismatch.Expected)
	assert.NotEmpty(t, mismatch.Sent)
	assert.NotEmpty(t, mismatch.Received)
	assert.NotEqual(t, mismatch.Sent["mavlink_version"], mismatch.Received["mavlink_version"])
}

func TestSessionReceiveTimeout(t *testing.T) {
	s := helperSession(t, "silent")
	s.ReceiveTimeout = 300 * time.Millisecond

	err := s.Run()
	var timeout *ErrTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, s.Dialect.Messages[0].Name, timeout.Expected)
}

func TestSessionHeartbeatTimeout(t *testing.T) {
	s := helperSession(t, "noconnect")
	s.HeartbeatTimeout = 300 * time.Millisecond

	err := s.Run()
	var timeout *ErrTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, heartbeatMessage, timeout.Expected)
}

func TestSessionServerExitCode(t *testing.T) {
	s := helperSession(t, "exitcode")

	err := s.Run()
	var exit ErrServerExit
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, ErrServerExit(3), exit)
}

func TestSessionMissingServerBinary(t *testing.T) {
	s := NewSession(filepath.Join(t.TempDir(), "does-not-exist"), loadTestDialect(t))
	assert.Error(t, s.Run())
}

// TestHelperProcess is not a real test: it is the server binary under test,
// re-entered through the session's command seam.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	os.Exit(helperMain())
}

func helperMain() int {
	mode := os.Getenv("HELPER_MODE")
	if mode == "noconnect" {
		return 0
	}

	args := os.Args
	for i := range args {
		if args[i] == "--" {
			args = args[i+1:]
			break
		}
	}
	var address string
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "--address" {
			address = args[i+1]
		}
	}

	d, err := LoadDefinition(os.Getenv("HELPER_DIALECT"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "helper:", err)
		return 1
	}
	conn, err := Open(d, address)
	if err != nil {
		fmt.Fprintln(os.Stderr, "helper:", err)
		return 1
	}
	defer conn.Close()

	if err := conn.SendHeartbeat(); err != nil {
		fmt.Fprintln(os.Stderr, "helper:", err)
		return 1
	}
	if _, err := conn.WaitHeartbeat(5 * time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "helper:", err)
		return 1
	}

	for {
		msg, values, err := conn.Recv(5 * time.Second)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "helper:", err)
			return 1
		}
		switch mode {
		case "silent":
			continue
		case "corrupt":
			corruptValues(msg, values)
		}
		if err := conn.Send(msg, values); err != nil {
			fmt.Fprintln(os.Stderr, "helper:", err)
			return 1
		}
	}

	if mode == "exitcode" {
		return 3
	}
	return 0
}

// corruptValues bumps the first plain uint8 scalar so the echoed canonical
// form no longer matches.
func corruptValues(msg *Message, values map[string]any) {
	for _, f := range msg.Fields {
		if f.ArrayLen == 0 && f.Type == TypeUint8 && f.Enum == "" {
			values[f.Name] = values[f.Name].(uint8) + 1
			return
		}
	}
}
