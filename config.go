package camrelay

import (
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
)

// Defaults applied by StreamConfig validation.
const (
	DefaultFrameRate      = 30
	DefaultWidth          = 640
	DefaultHeight         = 480
	DefaultEndpointPath   = "/tmp/camera_stream"
	DefaultStatusInterval = 5 * time.Second
	DefaultSampleWindow   = 10

	defaultStopTimeout    = 5 * time.Second
	defaultRestartTimeout = 2 * time.Second
	defaultEncoderPath    = "ffmpeg"
)

// A StreamConfig describes how a Relay should be run. It is fixed at relay
// start; the encoder command line is derived from its dimensions and rate.
type StreamConfig struct {
	Name   string
	Width  int
	Height int
	// FPS is the target frame rate the relay paces against. A non-positive
	// value is normalized to DefaultFrameRate.
	FPS int
	// EndpointPath is where the transport endpoint lives on the filesystem.
	EndpointPath string
	// EncoderPath is the encoding binary to launch (ffmpeg unless set).
	EncoderPath string
	// StatusInterval is how often the relay emits a status snapshot.
	StatusInterval time.Duration
	// SampleWindow bounds how many per-second bandwidth samples are retained.
	SampleWindow int
	// StopTimeout bounds the graceful wait for encoder exit at shutdown.
	StopTimeout time.Duration
	// RestartTimeout bounds the graceful wait when cycling a dead encoder.
	RestartTimeout time.Duration
	Logger         golog.Logger
}

// validated returns a copy with zero values replaced by defaults.
func (c StreamConfig) validated() StreamConfig {
	if c.Name == "" {
		c.Name = uuid.NewString()
	}
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFrameRate
	}
	if c.EndpointPath == "" {
		c.EndpointPath = DefaultEndpointPath
	}
	if c.EncoderPath == "" {
		c.EncoderPath = defaultEncoderPath
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = DefaultSampleWindow
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.RestartTimeout <= 0 {
		c.RestartTimeout = defaultRestartTimeout
	}
	if c.Logger == nil {
		c.Logger = Logger
	}
	return c
}

// FrameInterval returns the pacing interval for the target frame rate.
func (c StreamConfig) FrameInterval() time.Duration {
	if c.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FPS)
}

// frameSize returns the expected byte length of one packed RGB frame.
func (c StreamConfig) frameSize() int {
	return c.Width * c.Height * 3
}
