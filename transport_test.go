package camrelay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"golang.org/x/sys/unix"
)

func TestTransportChannelRecreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream")
	tc := NewTransportChannel(path, golog.NewTestLogger(t))
	test.That(t, tc.Path(), test.ShouldEqual, path)

	test.That(t, tc.Recreate(), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Mode()&os.ModeNamedPipe, test.ShouldNotEqual, os.FileMode(0))
}

func TestTransportChannelRecreateInvalidatesOldNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream")
	tc := NewTransportChannel(path, golog.NewTestLogger(t))

	test.That(t, tc.Recreate(), test.ShouldBeNil)
	var before unix.Stat_t
	test.That(t, unix.Stat(path, &before), test.ShouldBeNil)

	// recreation is destructive: the old node is gone, so any reader still
	// attached to it sees end of stream and no stale bytes carry over
	test.That(t, tc.Recreate(), test.ShouldBeNil)
	var after unix.Stat_t
	test.That(t, unix.Stat(path, &after), test.ShouldBeNil)
	test.That(t, after.Ino, test.ShouldNotEqual, before.Ino)
}

func TestTransportChannelReplacesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream")
	test.That(t, os.WriteFile(path, []byte("stale"), 0o644), test.ShouldBeNil)

	tc := NewTransportChannel(path, golog.NewTestLogger(t))
	test.That(t, tc.Recreate(), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Mode()&os.ModeNamedPipe, test.ShouldNotEqual, os.FileMode(0))
}

func TestTransportChannelRemoveIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream")
	tc := NewTransportChannel(path, golog.NewTestLogger(t))

	test.That(t, tc.Remove(), test.ShouldBeNil)
	test.That(t, tc.Recreate(), test.ShouldBeNil)
	test.That(t, tc.Remove(), test.ShouldBeNil)
	_, err := os.Stat(path)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	test.That(t, tc.Remove(), test.ShouldBeNil)
}

func TestTransportErrorUnwraps(t *testing.T) {
	tc := NewTransportChannel(filepath.Join(t.TempDir(), "missing", "deep", "stream"), golog.NewTestLogger(t))
	err := tc.Recreate()
	test.That(t, err, test.ShouldNotBeNil)
	var terr *TransportError
	test.That(t, errors.As(err, &terr), test.ShouldBeTrue)
	test.That(t, terr.Unwrap(), test.ShouldNotBeNil)
}
