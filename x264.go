package camrelay

import (
	"context"
	"image"
	"os"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/codec/x264"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

const (
	x264BitRate           = 2_000_000
	endpointRetryInterval = 100 * time.Millisecond
)

// An X264Encoder encodes frames in process with libx264 and writes the
// bitstream to the transport endpoint itself, instead of delegating to an
// external subprocess. Opening the endpoint waits for a consumer to attach;
// that wait is confined to Start/Restart, never Write, and it observes ctx
// cancellation.
type X264Encoder struct {
	cfg    StreamConfig
	logger golog.Logger

	state EncoderState
	codec codec.ReadCloser
	img   image.Image
	out   *os.File
}

// NewX264Encoder returns an in-process encoder for the given config.
func NewX264Encoder(cfg StreamConfig, logger golog.Logger) *X264Encoder {
	cfg = cfg.validated()
	if logger == nil {
		logger = cfg.Logger
	}
	return &X264Encoder{cfg: cfg, logger: logger, state: StateAbsent}
}

// Read supplies the most recently written frame to the underlying codec.
func (xe *X264Encoder) Read() (img image.Image, release func(), err error) {
	return xe.img, func() {}, nil
}

// Start builds the codec and opens the endpoint for writing. It waits
// until a consumer attaches to the endpoint's read side or ctx is done.
func (xe *X264Encoder) Start(ctx context.Context) error {
	if xe.state == StateAlive || xe.state == StateStarting {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	xe.state = StateStarting

	params, err := x264.NewParams()
	if err != nil {
		xe.state = StateAbsent
		return errors.Wrap(err, "failed to build encoder params")
	}
	params.BitRate = x264BitRate
	params.KeyFrameInterval = xe.cfg.FPS
	var builder codec.VideoEncoderBuilder = &params
	enc, err := builder.BuildVideoEncoder(xe, prop.Media{
		Video: prop.Video{
			Width:  xe.cfg.Width,
			Height: xe.cfg.Height,
		},
	})
	if err != nil {
		xe.state = StateAbsent
		return errors.Wrap(err, "failed to build video encoder")
	}

	out, err := openEndpointWrite(ctx, xe.cfg.EndpointPath)
	if err != nil {
		multierr.AppendInto(&err, enc.Close())
		xe.state = StateAbsent
		return errors.Wrapf(err, "failed to open endpoint %q for writing", xe.cfg.EndpointPath)
	}

	xe.codec = enc
	xe.out = out
	xe.state = StateAlive
	xe.logger.Infow("in-process encoder started", "endpoint", xe.cfg.EndpointPath)
	return nil
}

// openEndpointWrite opens the endpoint's write side without parking the
// caller in the kernel. A blocking FIFO open would sleep until a consumer
// attaches and cannot be interrupted by ctx; a nonblocking open fails with
// ENXIO until a reader exists, so poll for the rendezvous under the context
// instead. The returned file stays registered with the runtime poller, so
// subsequent writes behave as ordinary blocking writes.
func openEndpointWrite(ctx context.Context, path string) (*os.File, error) {
	for {
		out, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, syscall.ENXIO) {
			return nil, err
		}
		if !utils.SelectContextOrWait(ctx, endpointRetryInterval) {
			return nil, ctx.Err()
		}
	}
}

// Write encodes one frame and writes the output to the endpoint.
func (xe *X264Encoder) Write(frame Frame) error {
	if xe.state != StateAlive {
		return newEncoderError(EncoderClosed, nil)
	}
	xe.img = frame.Image()
	data, release, err := xe.codec.Read()
	if err != nil {
		xe.state = StateDead
		return newEncoderError(EncoderIOFailure, err)
	}
	defer release()
	if _, err := xe.out.Write(data); err != nil {
		xe.state = StateDead
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			return newEncoderError(EncoderBrokenPipe, err)
		}
		return newEncoderError(EncoderIOFailure, err)
	}
	return nil
}

// Restart tears the codec and endpoint writer down and brings them back up.
func (xe *X264Encoder) Restart(ctx context.Context) error {
	if err := xe.Stop(); err != nil {
		xe.logger.Debugw("error stopping old encoder", "error", err)
	}
	return xe.Start(ctx)
}

// Stop closes the codec and the endpoint writer.
func (xe *X264Encoder) Stop() error {
	if xe.state == StateAbsent {
		return nil
	}
	var errs error
	if xe.codec != nil {
		errs = multierr.Append(errs, xe.codec.Close())
		xe.codec = nil
	}
	if xe.out != nil {
		if err := xe.out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
		xe.out = nil
	}
	xe.state = StateAbsent
	return errs
}

// State returns the lifecycle state of the encoder.
func (xe *X264Encoder) State() EncoderState {
	return xe.state
}
