// Command stream_camera relays a local camera to a named pipe as a low
// latency H.264 stream playable with ffplay or VLC.
package main

import (
	"context"

	"github.com/edaniels/golog"
	// register camera drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	goutils "go.viam.com/utils"

	"github.com/edaniels/camrelay"
	"github.com/edaniels/camrelay/media"
)

var logger = golog.Global().Named("stream_camera")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Camera   string `flag:"camera,usage=camera device label (any camera if empty)"`
	Width    int    `flag:"width,usage=frame width"`
	Height   int    `flag:"height,usage=frame height"`
	FPS      int    `flag:"fps,usage=target frames per second"`
	Endpoint string `flag:"endpoint,usage=named pipe path"`
	Server   string `flag:"server,usage=broadcast server binary to launch"`
	X264     bool   `flag:"x264,usage=encode in process instead of launching ffmpeg"`
	Dump     bool   `flag:"dump,usage=list available cameras"`
	Debug    bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		camrelay.Debug = true
	}
	if argsParsed.Dump {
		for _, info := range media.QueryVideoDevices() {
			logger.Infof("%s", info.ID)
			logger.Infof("\t labels: %v", info.Labels)
			logger.Infof("\t priority: %v", info.Priority)
			for _, p := range info.Properties {
				logger.Infof("\t %+v", p.Video)
			}
		}
		return nil
	}

	cfg := camrelay.StreamConfig{
		Width:        argsParsed.Width,
		Height:       argsParsed.Height,
		FPS:          argsParsed.FPS,
		EndpointPath: argsParsed.Endpoint,
		Logger:       logger,
	}
	// the camera source must agree with the encoder on frame dimensions
	if cfg.Width <= 0 {
		cfg.Width = camrelay.DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = camrelay.DefaultHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = camrelay.DefaultFrameRate
	}

	return runRelay(ctx, cfg, argsParsed, logger)
}

func runRelay(
	ctx context.Context,
	cfg camrelay.StreamConfig,
	args Arguments,
	logger golog.Logger,
) error {
	source, err := media.NewCameraSource(args.Camera, cfg.Width, cfg.Height, cfg.FPS, logger)
	if err != nil {
		return err
	}

	var encoder camrelay.Encoder
	if args.X264 {
		encoder = camrelay.NewX264Encoder(cfg, logger)
	}
	relay, err := camrelay.NewRelay(cfg, source, encoder)
	if err != nil {
		goutils.UncheckedError(source.Close())
		return err
	}

	if args.Server != "" {
		if err := camrelay.LaunchBroadcastServer(ctx, args.Server, relay.Endpoint(), logger); err != nil {
			goutils.UncheckedError(source.Close())
			return err
		}
	}

	logger.Infof("to view the stream: ffplay -f mpegts -fflags nobuffer -flags low_delay %s", relay.Endpoint())
	logger.Infof("or: vlc %s", relay.Endpoint())
	return relay.Run(ctx)
}
