// Package media provides camera backed frame sources built on the
// mediadevices driver registry.
package media

import (
	"context"
	"image"
	"math"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"

	"github.com/edaniels/camrelay"
)

// below adapted from github.com/pion/mediadevices

// ErrNotFound happens when there is no driver found in a query.
var ErrNotFound = errors.New("failed to find the best camera that fits the constraints")

// Constraints builds device constraints around the requested capture shape.
// Zero values leave the corresponding dimension free.
func Constraints(width, height, fps int) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			if width > 0 {
				constraint.Width = prop.Int(width)
			} else {
				constraint.Width = prop.IntRanged{Min: 640, Max: 4096, Ideal: 1920}
			}
			if height > 0 {
				constraint.Height = prop.Int(height)
			} else {
				constraint.Height = prop.IntRanged{Min: 400, Max: 2160, Ideal: 1080}
			}
			if fps > 0 {
				constraint.FrameRate = prop.FloatRanged{Min: 0, Max: 200, Ideal: float32(fps)}
			} else {
				constraint.FrameRate = prop.FloatRanged{Min: 0, Max: 200, Ideal: 60}
			}
			constraint.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatYUY2,
				frame.FormatUYVY,
				frame.FormatRGBA,
				frame.FormatMJPEG,
				frame.FormatNV12,
				frame.FormatNV21,
			}
		},
	}
}

// NewCameraSource finds a camera matching label (any camera if empty) and
// returns a FrameSource producing packed RGB frames of width x height. A
// failure here is a device-unavailable error and is fatal at startup.
func NewCameraSource(label string, width, height, fps int, logger golog.Logger) (camrelay.FrameSource, error) {
	if logger == nil {
		logger = camrelay.Logger
	}
	d, selectedMedia, err := selectCamera(Constraints(width, height, fps), label, logger)
	if err != nil {
		return nil, err
	}
	recorder, ok := d.(driver.VideoRecorder)
	if !ok {
		return nil, errors.New("driver not a driver.VideoRecorder")
	}
	if err := d.Open(); err != nil {
		return nil, errors.Wrapf(err, "failed to open camera %q", d.Info().Label)
	}
	reader, err := recorder.VideoRecord(selectedMedia)
	if err != nil {
		return nil, multierrClose(d, errors.Wrap(err, "failed to start video recording"))
	}
	logger.Infow("camera opened",
		"label", d.Info().Label,
		"width", selectedMedia.Width,
		"height", selectedMedia.Height,
		"frame_rate", selectedMedia.FrameRate,
	)
	src := &cameraSource{driver: d, reader: reader}
	return camrelay.FrameSourceFromImages(src, width, height), nil
}

func multierrClose(d driver.Driver, err error) error {
	if closeErr := d.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close driver: %s", closeErr)
	}
	return err
}

// cameraSource adapts a mediadevices video reader into an ImageSource. The
// read can block up to the driver's own frame timeout; that is the relay's
// designated blocking point.
type cameraSource struct {
	driver driver.Driver
	reader video.Reader
	closed bool
}

func (cs *cameraSource) Next(ctx context.Context) (image.Image, func(), error) {
	if cs.closed {
		return nil, nil, camrelay.ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	img, release, err := cs.reader.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read camera frame")
	}
	return img, release, nil
}

func (cs *cameraSource) Close() error {
	if cs.closed {
		return nil
	}
	cs.closed = true
	return cs.driver.Close()
}

func labelFilter(target string) driver.FilterFn {
	return driver.FilterFn(func(d driver.Driver) bool {
		labels := strings.Split(d.Info().Label, camera.LabelSeparator)
		for _, label := range labels {
			if label == target {
				return true
			}
		}
		return false
	})
}

func selectCamera(
	constraints mediadevices.MediaStreamConstraints,
	label string,
	logger golog.Logger,
) (driver.Driver, prop.Media, error) {
	var videoConstraints mediadevices.MediaTrackConstraints
	if constraints.Video != nil {
		constraints.Video(&videoConstraints)
	}
	typeFilter := driver.FilterVideoRecorder()
	notScreenFilter := driver.FilterNot(driver.FilterDeviceType(driver.Screen))
	filter := driver.FilterAnd(typeFilter, notScreenFilter)
	if label != "" {
		filter = driver.FilterAnd(filter, labelFilter(label))
	}
	return selectBestDriver(filter, videoConstraints, logger)
}

// selectBestDriver implements the SelectSettings algorithm.
// Reference: https://w3c.github.io/mediacapture-main/#dfn-selectsettings
func selectBestDriver(
	filter driver.FilterFn,
	constraints mediadevices.MediaTrackConstraints,
	logger golog.Logger,
) (driver.Driver, prop.Media, error) {
	var bestDriver driver.Driver
	var bestProp prop.Media
	minFitnessDist := math.Inf(1)

	driverProperties := queryDriverProperties(filter, logger)
	for d, props := range driverProperties {
		priority := float64(d.Info().Priority)
		for _, p := range props {
			fitnessDist, ok := constraints.MediaConstraints.FitnessDistance(p)
			if !ok {
				continue
			}
			fitnessDist -= priority
			if fitnessDist < minFitnessDist {
				minFitnessDist = fitnessDist
				bestDriver = d
				bestProp = p
			}
		}
	}

	if bestDriver == nil {
		return nil, prop.Media{}, ErrNotFound
	}

	selectedMedia := prop.Media{}
	selectedMedia.MergeConstraints(constraints.MediaConstraints)
	selectedMedia.Merge(bestProp)
	return bestDriver, selectedMedia, nil
}

func queryDriverProperties(filter driver.FilterFn, logger golog.Logger) map[driver.Driver][]prop.Media {
	var needToClose []driver.Driver
	drivers := driver.GetManager().Query(filter)
	m := make(map[driver.Driver][]prop.Media)

	for _, d := range drivers {
		if d.Status() == driver.StateClosed {
			if err := d.Open(); err != nil {
				// cannot get properties from a driver that will not open
				continue
			}
			needToClose = append(needToClose, d)
		}
		m[d] = d.Properties()
	}

	for _, d := range needToClose {
		if err := d.Close(); err != nil {
			logger.Errorw("error closing driver", "error", err)
		}
	}

	return m
}
