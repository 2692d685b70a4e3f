package camrelay

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestFrameFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	img.SetRGBA(1, 0, color.RGBA{G: 0xff, A: 0xff})
	img.SetRGBA(0, 1, color.RGBA{B: 0xff, A: 0xff})
	img.SetRGBA(1, 1, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})

	f := FrameFromImage(img)
	test.That(t, f.Width, test.ShouldEqual, 2)
	test.That(t, f.Height, test.ShouldEqual, 2)
	test.That(t, f.Size(), test.ShouldEqual, 12)
	test.That(t, f.Data, test.ShouldResemble, []byte{
		0xff, 0, 0, 0, 0xff, 0,
		0, 0, 0xff, 0x10, 0x20, 0x30,
	})
}

func TestFrameFromImageGenericPath(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{Y: 0x40})
	img.SetGray(1, 0, color.Gray{Y: 0x80})

	f := FrameFromImage(img)
	test.That(t, f.Data, test.ShouldResemble, []byte{0x40, 0x40, 0x40, 0x80, 0x80, 0x80})
}

func TestFrameImageRoundTrip(t *testing.T) {
	f := NewFrame(2, 1)
	copy(f.Data, []byte{1, 2, 3, 4, 5, 6})

	img := f.Image()
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 1))
	test.That(t, img.At(0, 0), test.ShouldResemble, color.RGBA{1, 2, 3, 0xff})
	test.That(t, img.At(1, 0), test.ShouldResemble, color.RGBA{4, 5, 6, 0xff})
}

func TestFrameImageOutOfBounds(t *testing.T) {
	f := NewFrame(2, 1)
	img := f.Image()
	test.That(t, img.At(2, 0), test.ShouldResemble, color.RGBA{})
	test.That(t, img.At(0, 1), test.ShouldResemble, color.RGBA{})
	test.That(t, img.At(-1, 0), test.ShouldResemble, color.RGBA{})
}

func TestResizeImageSource(t *testing.T) {
	src := ImageSourceFunc(func(ctx context.Context) (image.Image, func(), error) {
		return image.NewRGBA(image.Rect(0, 0, 4, 4)), func() {}, nil
	})

	ris := ResizeImageSource{Src: src, Width: 2, Height: 2}
	img, release, err := ris.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	release()
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 2))

	// matching dimensions pass through without a copy
	same := ResizeImageSource{Src: src, Width: 4, Height: 4}
	img, release, err = same.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	release()
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 4))
	test.That(t, same.Close(), test.ShouldBeNil)
}

func TestFrameSourceFromImages(t *testing.T) {
	src := ImageSourceFunc(func(ctx context.Context) (image.Image, func(), error) {
		return image.NewRGBA(image.Rect(0, 0, 4, 4)), func() {}, nil
	})

	fs := FrameSourceFromImages(src, 2, 2)
	frame, release, err := fs.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	release()
	test.That(t, frame.Width, test.ShouldEqual, 2)
	test.That(t, frame.Height, test.ShouldEqual, 2)
	test.That(t, frame.Size(), test.ShouldEqual, 12)
	test.That(t, fs.Close(), test.ShouldBeNil)
}
