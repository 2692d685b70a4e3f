package camrelay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Throttle for repeated recovery logging: the first few failures are logged
// individually, then only every fiftieth.
const (
	maxLoggedFailures  = 10
	failureLogInterval = 50
)

// A Relay drives the pipeline: it pulls frames from a source, paces them to
// the target rate, writes kept frames to the encoder and recovers the
// transport channel and encoder when the downstream side dies. The relay
// exclusively owns the encoder handle and the transport endpoint; all
// lifecycle state is mutated from its single control loop.
type Relay struct {
	cfg     StreamConfig
	source  FrameSource
	encoder Encoder
	channel *TransportChannel
	limiter *RateLimiter
	meter   *BandwidthMeter
	logger  golog.Logger

	framesWritten uint64
	framesDropped uint64
	sourceErrors  uint64
	restarts      uint64
	bytesWritten  uint64
	startedNanos  int64
}

// NewRelay composes a relay from the given source. A nil encoder gets a
// ProcessEncoder built from the config. Endpoint creation happens here and
// its failure is fatal; steady-state transport failures later are not.
func NewRelay(cfg StreamConfig, source FrameSource, encoder Encoder) (*Relay, error) {
	cfg = cfg.validated()
	logger := cfg.Logger.Named(cfg.Name)
	if encoder == nil {
		encoder = NewProcessEncoder(cfg, logger)
	}
	channel := NewTransportChannel(cfg.EndpointPath, logger)
	if err := channel.Recreate(); err != nil {
		return nil, errors.Wrap(err, "failed to create transport endpoint")
	}
	return &Relay{
		cfg:     cfg,
		source:  source,
		encoder: encoder,
		channel: channel,
		limiter: NewRateLimiter(cfg.FrameInterval()),
		meter:   NewBandwidthMeter(cfg.SampleWindow),
		logger:  logger,
	}, nil
}

// Run drives the control loop until ctx is cancelled. A failure to bring
// the encoder up initially is fatal; every failure after that is recovered
// by restarting the pipeline in place. Shutdown is best effort: every
// cleanup step runs and errors are logged, never returned.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.encoder.Start(ctx); err != nil {
		r.logShutdownErr(r.channel.Remove())
		return errors.Wrap(err, "failed to launch encoder")
	}
	atomic.StoreInt64(&r.startedNanos, time.Now().UnixNano())
	defer r.shutdown()

	r.logger.Infow("relay started",
		"width", r.cfg.Width,
		"height", r.cfg.Height,
		"target_fps", r.cfg.FPS,
		"endpoint", r.cfg.EndpointPath,
	)

	lastStatus := time.Now()
	consecutiveFailures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.step(ctx, &consecutiveFailures)
		if now := time.Now(); now.Sub(lastStatus) >= r.cfg.StatusInterval {
			r.logStatus(now)
			lastStatus = now
		}
	}
}

// step runs one iteration of the per-frame contract: pull, pace, heal,
// write, meter.
func (r *Relay) step(ctx context.Context, consecutiveFailures *int) {
	frame, release, err := r.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		atomic.AddUint64(&r.sourceErrors, 1)
		r.logger.Debugw("error getting frame", "error", err)
		return
	}
	if release != nil {
		defer release()
	}

	now := time.Now()
	if !r.limiter.Keep(now) {
		atomic.AddUint64(&r.framesDropped, 1)
		return
	}

	if r.encoder.State() != StateAlive {
		if err := r.restartPipeline(ctx); err != nil {
			r.logRecoveryFailure(consecutiveFailures, err)
			return
		}
	}

	if err := r.encoder.Write(frame); err != nil {
		// the handle is dead now; the next iteration restarts the pipeline
		r.logRecoveryFailure(consecutiveFailures, err)
		return
	}
	if *consecutiveFailures > 0 {
		r.logger.Infow("stream recovered", "failed_attempts", *consecutiveFailures)
		*consecutiveFailures = 0
	}
	atomic.AddUint64(&r.framesWritten, 1)
	atomic.AddUint64(&r.bytesWritten, uint64(frame.Size()))
	r.meter.Add(frame.Size(), now)
}

// restartPipeline recreates the transport endpoint and then the encoder, in
// that order, so no stale downstream bytes survive into the new handle's
// stream.
func (r *Relay) restartPipeline(ctx context.Context) error {
	atomic.AddUint64(&r.restarts, 1)
	r.logger.Infow("restarting pipeline to clear stale stream", "encoder_state", r.encoder.State().String())
	if err := r.channel.Recreate(); err != nil {
		return err
	}
	return r.encoder.Restart(ctx)
}

func (r *Relay) logRecoveryFailure(consecutiveFailures *int, err error) {
	*consecutiveFailures++
	n := *consecutiveFailures
	if n <= maxLoggedFailures || n%failureLogInterval == 0 {
		r.logger.Warnw("stream write failed; continuing", "attempt", n, "error", err)
	}
}

// shutdown runs the ordered cleanup: the loop has stopped pulling frames,
// so close the source, stop the encoder (input close, bounded wait, kill)
// and remove the endpoint. Every step runs even if an earlier one fails.
func (r *Relay) shutdown() {
	r.logger.Info("stopping stream")
	errs := multierr.Combine(
		r.source.Close(),
		r.encoder.Stop(),
		r.channel.Remove(),
	)
	r.logShutdownErr(errs)

	stats := r.Stats()
	r.logger.Infow("streaming finished",
		"duration", stats.Elapsed.Round(time.Millisecond).String(),
		"frames", stats.FramesWritten,
		"dropped", stats.FramesDropped,
		"avg_fps", stats.AverageFPS(),
	)
}

func (r *Relay) logShutdownErr(err error) {
	if err != nil {
		r.logger.Errorw("error cleaning up stream", "error", err)
	}
}

func (r *Relay) logStatus(now time.Time) {
	stats := r.Stats()
	r.logger.Infow("stream status",
		"avg_fps", stats.AverageFPS(),
		"drop_rate", stats.DropRate(),
		"bandwidth_bps", r.meter.Instant(),
		"avg_bandwidth_bps", r.meter.Average(now),
		"frames", stats.FramesWritten,
		"restarts", stats.Restarts,
	)
}

// RelayStats is a snapshot of relay counters. Rates are derived so that the
// reported drop rate is always drops/(drops+writes) for the same snapshot.
type RelayStats struct {
	FramesWritten uint64
	FramesDropped uint64
	SourceErrors  uint64
	Restarts      uint64
	BytesWritten  uint64
	Elapsed       time.Duration
}

// DropRate returns dropped/(dropped+written), or zero before any frames.
func (s RelayStats) DropRate() float64 {
	total := s.FramesDropped + s.FramesWritten
	if total == 0 {
		return 0
	}
	return float64(s.FramesDropped) / float64(total)
}

// AverageFPS returns written frames per second of elapsed run time.
func (s RelayStats) AverageFPS() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.FramesWritten) / secs
}

// Endpoint returns the path of the transport endpoint consumers read from.
func (r *Relay) Endpoint() string {
	return r.channel.Path()
}

// Stats returns a snapshot of the relay's counters. Safe to call from any
// goroutine while the relay runs.
func (r *Relay) Stats() RelayStats {
	var elapsed time.Duration
	if started := atomic.LoadInt64(&r.startedNanos); started != 0 {
		elapsed = time.Since(time.Unix(0, started))
	}
	return RelayStats{
		FramesWritten: atomic.LoadUint64(&r.framesWritten),
		FramesDropped: atomic.LoadUint64(&r.framesDropped),
		SourceErrors:  atomic.LoadUint64(&r.sourceErrors),
		Restarts:      atomic.LoadUint64(&r.restarts),
		BytesWritten:  atomic.LoadUint64(&r.bytesWritten),
		Elapsed:       elapsed,
	}
}
