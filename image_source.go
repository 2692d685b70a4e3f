package camrelay

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
)

// An ImageSource is responsible for producing decoded images when requested.
// It is the boundary most capture drivers naturally expose; use
// FrameSourceFromImages to feed one into a relay.
type ImageSource interface {
	Next(ctx context.Context) (image.Image, func(), error)
	Close() error
}

// An ImageSourceFunc is a helper to turn a function into an ImageSource.
type ImageSourceFunc func(ctx context.Context) (image.Image, func(), error)

func (isf ImageSourceFunc) Next(ctx context.Context) (image.Image, func(), error) {
	return isf(ctx)
}

func (isf ImageSourceFunc) Close() error {
	return nil
}

// ResizeImageSource resizes images to the set dimensions. Images already at
// those dimensions pass through untouched.
type ResizeImageSource struct {
	Src           ImageSource
	Width, Height int
}

// Next returns an image resized to Width x Height dimensions.
func (ris ResizeImageSource) Next(ctx context.Context) (image.Image, func(), error) {
	img, release, err := ris.Src.Next(ctx)
	if err != nil {
		return nil, nil, err
	}
	if bounds := img.Bounds(); bounds.Dx() == ris.Width && bounds.Dy() == ris.Height {
		return img, release, nil
	}
	if release != nil {
		defer release()
	}

	return imaging.Resize(img, ris.Width, ris.Height, imaging.NearestNeighbor), func() {}, nil
}

// Close closes the underlying source.
func (ris ResizeImageSource) Close() error {
	return ris.Src.Close()
}

// FrameSourceFromImages adapts an ImageSource into a FrameSource producing
// packed RGB frames of exactly width x height; images of other dimensions
// are resized on the way through.
func FrameSourceFromImages(src ImageSource, width, height int) FrameSource {
	return &imageFrameSource{src: ResizeImageSource{Src: src, Width: width, Height: height}}
}

type imageFrameSource struct {
	src ImageSource
}

func (ifs *imageFrameSource) Next(ctx context.Context) (Frame, func(), error) {
	img, release, err := ifs.src.Next(ctx)
	if err != nil {
		return Frame{}, nil, err
	}
	if release != nil {
		defer release()
	}
	return FrameFromImage(img), func() {}, nil
}

func (ifs *imageFrameSource) Close() error {
	return ifs.src.Close()
}
