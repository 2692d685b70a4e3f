package camrelay

import (
	"context"
	"errors"
	"image"
	"image/color"
)

// A Frame is one raw image sampled from a FrameSource. Pixels are packed
// RGB, 3 bytes each, row major. A frame is consumed exactly once by the
// relay and must not be retained past its release function.
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// NewFrame allocates an empty frame of the given dimensions.
func NewFrame(width, height int) Frame {
	return Frame{
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height*3),
	}
}

// FrameFromImage converts any image into a packed RGB frame.
func FrameFromImage(img image.Image) Frame {
	bounds := img.Bounds()
	f := NewFrame(bounds.Dx(), bounds.Dy())
	switch src := img.(type) {
	case *image.RGBA:
		fromRGBAOrder(&f, src.Pix, src.Stride, bounds)
	case *image.NRGBA:
		fromRGBAOrder(&f, src.Pix, src.Stride, bounds)
	default:
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				f.Data[i] = uint8(r >> 8)
				f.Data[i+1] = uint8(g >> 8)
				f.Data[i+2] = uint8(b >> 8)
				i += 3
			}
		}
	}
	return f
}

// fromRGBAOrder copies 4 byte RGBA ordered pixel rows into packed RGB.
func fromRGBAOrder(f *Frame, pix []byte, stride int, bounds image.Rectangle) {
	i := 0
	for y := 0; y < bounds.Dy(); y++ {
		row := pix[y*stride:]
		for x := 0; x < bounds.Dx(); x++ {
			f.Data[i] = row[x*4]
			f.Data[i+1] = row[x*4+1]
			f.Data[i+2] = row[x*4+2]
			i += 3
		}
	}
}

// Size returns the byte length of the frame's pixel data.
func (f Frame) Size() int {
	return len(f.Data)
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Image returns a read-only image view over the frame's buffer.
func (f Frame) Image() image.Image {
	return &frameImage{f}
}

type frameImage struct {
	f Frame
}

func (fi *frameImage) ColorModel() color.Model {
	return color.RGBAModel
}

func (fi *frameImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, fi.f.Width, fi.f.Height)
}

func (fi *frameImage) At(x, y int) color.Color {
	if !image.Pt(x, y).In(fi.Bounds()) {
		return color.RGBA{}
	}
	i := (y*fi.f.Width + x) * 3
	return color.RGBA{fi.f.Data[i], fi.f.Data[i+1], fi.f.Data[i+2], 0xff}
}

// ErrSourceClosed happens when a frame is requested from a closed source.
var ErrSourceClosed = errors.New("frame source closed")

// A FrameSource is responsible for producing raw frames when requested. A
// source should produce the frame as quickly as possible and introduce no
// rate limiting of its own as that is handled by the relay. The returned
// release function, if non-nil, must be called once the frame is no longer
// being utilized.
type FrameSource interface {
	Next(ctx context.Context) (Frame, func(), error)
	Close() error
}

// A FrameSourceFunc is a helper to turn a function into a FrameSource.
type FrameSourceFunc func(ctx context.Context) (Frame, func(), error)

func (fsf FrameSourceFunc) Next(ctx context.Context) (Frame, func(), error) {
	return fsf(ctx)
}

func (fsf FrameSourceFunc) Close() error {
	return nil
}
