package camrelay

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Encoding parameters for the low latency profile. The keyframe interval is
// not configured here; it is pinned to the frame rate so a new consumer can
// resynchronize within roughly one second.
const (
	encoderCRF     = "23"
	encoderMaxRate = "2M"
	encoderBufSize = "4M"
)

// An encoderHandle is one live instance of the encoding subprocess. Once a
// handle is dead it is never reused; Restart builds a fresh one.
type encoderHandle struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	waitErr error
}

func (h *encoderHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *encoderHandle) pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// A ProcessEncoder runs an external ffmpeg-style binary, feeding raw frames
// to its stdin and directing the encoded bitstream at the transport
// endpoint. All lifecycle state is owned by the relay loop; only the exit
// watcher goroutine runs concurrently and it communicates by closing the
// handle's done channel.
type ProcessEncoder struct {
	path   string
	args   []string
	cfg    StreamConfig
	logger golog.Logger

	state  EncoderState
	handle *encoderHandle
}

// NewProcessEncoder returns an encoder that will launch the binary named by
// the config (ffmpeg by default) with arguments derived from it.
func NewProcessEncoder(cfg StreamConfig, logger golog.Logger) *ProcessEncoder {
	cfg = cfg.validated()
	if logger == nil {
		logger = cfg.Logger
	}
	return &ProcessEncoder{
		path:   cfg.EncoderPath,
		args:   buildEncoderArgs(cfg),
		cfg:    cfg,
		logger: logger,
		state:  StateAbsent,
	}
}

// buildEncoderArgs derives the subprocess command line from the stream
// config: raw RGB frames of exactly the configured dimensions on stdin, low
// latency H.264 in an MPEG-TS container out to the endpoint path.
func buildEncoderArgs(cfg StreamConfig) []string {
	fps := strconv.Itoa(cfg.FPS)
	return []string{
		"-y",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-s", strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height),
		"-pix_fmt", "rgb24",
		"-r", fps,
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-crf", encoderCRF,
		"-maxrate", encoderMaxRate,
		"-bufsize", encoderBufSize,
		"-g", fps,
		"-keyint_min", fps,
		"-f", "mpegts",
		cfg.EndpointPath,
	}
}

// Start launches a fresh subprocess handle. The subprocess itself blocks
// opening the endpoint until a consumer attaches; Start does not.
func (pe *ProcessEncoder) Start(ctx context.Context) error {
	if pe.state == StateAlive || pe.state == StateStarting {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pe.state = StateStarting

	cmd := exec.Command(pe.path, pe.args...)
	if Debug {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		pe.state = StateAbsent
		return errors.Wrap(err, "failed to open encoder input stream")
	}
	if err := cmd.Start(); err != nil {
		pe.state = StateAbsent
		return errors.Wrapf(err, "failed to launch encoder %q", pe.path)
	}

	handle := &encoderHandle{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	utils.PanicCapturingGo(func() {
		handle.waitErr = cmd.Wait()
		close(handle.done)
	})
	pe.handle = handle
	pe.state = StateAlive
	pe.logger.Infow("encoder started", "pid", handle.pid(), "endpoint", pe.cfg.EndpointPath)
	return nil
}

// Write feeds one raw frame to the subprocess. It fails without blocking
// when no handle is alive and classifies stream faults so the relay can
// decide to restart.
func (pe *ProcessEncoder) Write(frame Frame) error {
	if pe.handle == nil || pe.state != StateAlive {
		return newEncoderError(EncoderClosed, nil)
	}
	if pe.handle.exited() {
		pe.state = StateDead
		return newEncoderError(EncoderClosed, pe.handle.waitErr)
	}
	if size := pe.cfg.frameSize(); frame.Size() != size {
		return newEncoderError(EncoderIOFailure,
			errors.Errorf("frame is %d bytes; encoder expects %d", frame.Size(), size))
	}
	if _, err := pe.handle.stdin.Write(frame.Data); err != nil {
		pe.state = StateDead
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			return newEncoderError(EncoderBrokenPipe, err)
		}
		return newEncoderError(EncoderIOFailure, err)
	}
	return nil
}

// Restart tears down the current handle, if any, and starts a fresh one.
// Stop errors are logged, not returned; only a failure to come back up is.
func (pe *ProcessEncoder) Restart(ctx context.Context) error {
	if err := pe.stop(pe.cfg.RestartTimeout); err != nil {
		pe.logger.Debugw("error stopping old encoder handle", "error", err)
	}
	return pe.Start(ctx)
}

// Stop closes the subprocess's input so it can flush, waits a bounded time
// for it to exit, then kills it.
func (pe *ProcessEncoder) Stop() error {
	return pe.stop(pe.cfg.StopTimeout)
}

func (pe *ProcessEncoder) stop(timeout time.Duration) error {
	handle := pe.handle
	if handle == nil {
		pe.state = StateAbsent
		return nil
	}
	pe.handle = nil
	pe.state = StateAbsent

	var errs error
	if err := handle.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = multierr.Append(errs, errors.Wrap(err, "failed to close encoder input"))
	}
	if !handle.exited() {
		if err := handle.cmd.Process.Signal(syscall.SIGTERM); err != nil &&
			!errors.Is(err, os.ErrProcessDone) {
			errs = multierr.Append(errs, errors.Wrap(err, "failed to signal encoder"))
		}
	}
	select {
	case <-handle.done:
	case <-time.After(timeout):
		pe.logger.Warnw("encoder did not exit in time; killing", "pid", handle.pid())
		if err := handle.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = multierr.Append(errs, errors.Wrap(err, "failed to kill encoder"))
		}
		<-handle.done
	}
	pe.logger.Debugw("encoder stopped", "pid", handle.pid())
	return errs
}

// State returns the lifecycle state of the current handle.
func (pe *ProcessEncoder) State() EncoderState {
	return pe.state
}

// PID returns the live subprocess's id, or zero when absent.
func (pe *ProcessEncoder) PID() int {
	if pe.handle == nil {
		return 0
	}
	return pe.handle.pid()
}
