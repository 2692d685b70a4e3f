package camrelay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func testEncoderConfig(t *testing.T) StreamConfig {
	t.Helper()
	return StreamConfig{
		Width:          4,
		Height:         4,
		FPS:            5,
		EndpointPath:   filepath.Join(t.TempDir(), "stream"),
		StopTimeout:    2 * time.Second,
		RestartTimeout: time.Second,
		Logger:         golog.NewTestLogger(t),
	}.validated()
}

// newStubProcessEncoder swaps the configured binary for a stand-in so
// lifecycle behavior can be exercised without ffmpeg installed.
func newStubProcessEncoder(t *testing.T, path string, args ...string) *ProcessEncoder {
	t.Helper()
	cfg := testEncoderConfig(t)
	pe := NewProcessEncoder(cfg, cfg.Logger)
	pe.path = path
	pe.args = args
	return pe
}

func TestProcessEncoderWriteAbsentNeverBlocks(t *testing.T) {
	pe := NewProcessEncoder(testEncoderConfig(t), nil)
	test.That(t, pe.State(), test.ShouldEqual, StateAbsent)

	done := make(chan error, 1)
	go func() {
		done <- pe.Write(NewFrame(4, 4))
	}()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, IsEncoderClosed(err), test.ShouldBeTrue)
	case <-time.After(time.Second):
		t.Fatal("write on absent handle blocked")
	}
}

func TestProcessEncoderLifecycle(t *testing.T) {
	pe := newStubProcessEncoder(t, "cat")

	test.That(t, pe.Start(context.Background()), test.ShouldBeNil)
	test.That(t, pe.State(), test.ShouldEqual, StateAlive)
	test.That(t, pe.PID(), test.ShouldNotEqual, 0)

	// starting an alive encoder is a no-op
	pid := pe.PID()
	test.That(t, pe.Start(context.Background()), test.ShouldBeNil)
	test.That(t, pe.PID(), test.ShouldEqual, pid)

	test.That(t, pe.Write(NewFrame(4, 4)), test.ShouldBeNil)

	test.That(t, pe.Stop(), test.ShouldBeNil)
	test.That(t, pe.State(), test.ShouldEqual, StateAbsent)
	test.That(t, pe.PID(), test.ShouldEqual, 0)
}

func TestProcessEncoderRestartReplacesHandle(t *testing.T) {
	pe := newStubProcessEncoder(t, "cat")

	test.That(t, pe.Restart(context.Background()), test.ShouldBeNil)
	test.That(t, pe.State(), test.ShouldEqual, StateAlive)
	firstPID := pe.PID()

	test.That(t, pe.Restart(context.Background()), test.ShouldBeNil)
	test.That(t, pe.State(), test.ShouldEqual, StateAlive)
	test.That(t, pe.PID(), test.ShouldNotEqual, firstPID)

	test.That(t, pe.Stop(), test.ShouldBeNil)
}

func TestProcessEncoderDetectsSubprocessExit(t *testing.T) {
	pe := newStubProcessEncoder(t, "true")

	test.That(t, pe.Start(context.Background()), test.ShouldBeNil)
	select {
	case <-pe.handle.done:
	case <-time.After(5 * time.Second):
		t.Fatal("subprocess never exited")
	}

	err := pe.Write(NewFrame(4, 4))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsEncoderClosed(err), test.ShouldBeTrue)
	test.That(t, pe.State(), test.ShouldEqual, StateDead)

	// a dead handle is replaced, never reused
	test.That(t, pe.Restart(context.Background()), test.ShouldBeNil)
	test.That(t, pe.State(), test.ShouldEqual, StateAlive)
	test.That(t, pe.Stop(), test.ShouldBeNil)
}

func TestProcessEncoderStopKillsUnresponsiveSubprocess(t *testing.T) {
	cfg := testEncoderConfig(t)
	cfg.StopTimeout = 500 * time.Millisecond
	pe := NewProcessEncoder(cfg, cfg.Logger)
	pe.path = "sh"
	// survives stdin close and ignores the graceful signal; only the kill
	// after the bounded wait can take it down
	pe.args = []string{"-c", `trap "" TERM; while read x; do :; done; sleep 60`}

	test.That(t, pe.Start(context.Background()), test.ShouldBeNil)

	start := time.Now()
	test.That(t, pe.Stop(), test.ShouldBeNil)
	elapsed := time.Since(start)
	test.That(t, elapsed, test.ShouldBeGreaterThanOrEqualTo, cfg.StopTimeout)
	test.That(t, elapsed, test.ShouldBeLessThan, 5*time.Second)
	test.That(t, pe.State(), test.ShouldEqual, StateAbsent)
}

func TestProcessEncoderLaunchFailure(t *testing.T) {
	pe := newStubProcessEncoder(t, "/nonexistent/encoder/binary")

	err := pe.Start(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, pe.State(), test.ShouldEqual, StateAbsent)
}

func TestProcessEncoderRejectsWrongFrameSize(t *testing.T) {
	pe := newStubProcessEncoder(t, "cat")
	test.That(t, pe.Start(context.Background()), test.ShouldBeNil)
	defer func() {
		test.That(t, pe.Stop(), test.ShouldBeNil)
	}()

	err := pe.Write(NewFrame(2, 2))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsEncoderClosed(err), test.ShouldBeFalse)
	test.That(t, IsBrokenPipe(err), test.ShouldBeFalse)
	// a malformed frame does not kill the handle
	test.That(t, pe.State(), test.ShouldEqual, StateAlive)
}

func TestEncoderErrorKinds(t *testing.T) {
	closed := newEncoderError(EncoderClosed, nil)
	broken := newEncoderError(EncoderBrokenPipe, nil)
	test.That(t, IsEncoderClosed(closed), test.ShouldBeTrue)
	test.That(t, IsEncoderClosed(broken), test.ShouldBeFalse)
	test.That(t, IsBrokenPipe(broken), test.ShouldBeTrue)
	test.That(t, closed.Error(), test.ShouldContainSubstring, "closed")
	test.That(t, broken.Error(), test.ShouldContainSubstring, "broken pipe")
}

func TestBuildEncoderArgs(t *testing.T) {
	cfg := StreamConfig{Width: 320, Height: 240, FPS: 15, EndpointPath: "/tmp/x"}.validated()
	args := buildEncoderArgs(cfg)
	test.That(t, args, test.ShouldContain, "320x240")
	test.That(t, args, test.ShouldContain, "rgb24")
	test.That(t, args[len(args)-1], test.ShouldEqual, "/tmp/x")

	// keyframe interval pinned to the frame rate
	var gVal string
	for i, a := range args {
		if a == "-g" {
			gVal = args[i+1]
		}
	}
	test.That(t, gVal, test.ShouldEqual, "15")
}
