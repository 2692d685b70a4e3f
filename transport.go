package camrelay

import (
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"golang.org/x/sys/unix"
)

// A TransportError indicates the named endpoint could not be created or
// removed. Fatal at relay startup, retried on the next restart thereafter.
type TransportError struct {
	Path  string
	cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport endpoint %q: %s", e.Path, e.cause)
}

func (e *TransportError) Unwrap() error {
	return e.cause
}

// A TransportChannel manages the single named endpoint (a FIFO) that
// buffers bytes between the encoder's output and an external reader. At
// most one endpoint exists at its path at a time.
type TransportChannel struct {
	path   string
	logger golog.Logger
}

// NewTransportChannel returns a channel managing the endpoint at path.
func NewTransportChannel(path string, logger golog.Logger) *TransportChannel {
	if logger == nil {
		logger = Logger
	}
	return &TransportChannel{path: path, logger: logger}
}

// Path returns the endpoint's filesystem path.
func (tc *TransportChannel) Path() string {
	return tc.path
}

// Recreate removes any existing endpoint and creates a fresh one. The
// stream is live: stale bytes buffered for a disconnected reader must never
// reach a newly connected one, so the endpoint is replaced rather than
// flushed, invalidating any reader still attached to the old node. The old
// node is always unlinked before the new one is created.
func (tc *TransportChannel) Recreate() error {
	if err := tc.Remove(); err != nil {
		return err
	}
	if err := unix.Mkfifo(tc.path, 0o644); err != nil {
		return &TransportError{Path: tc.path, cause: err}
	}
	tc.logger.Debugw("transport endpoint recreated", "path", tc.path)
	return nil
}

// Remove unlinks the endpoint. Removing an absent endpoint is not an error.
func (tc *TransportChannel) Remove() error {
	if err := os.Remove(tc.path); err != nil && !os.IsNotExist(err) {
		return &TransportError{Path: tc.path, cause: err}
	}
	return nil
}
