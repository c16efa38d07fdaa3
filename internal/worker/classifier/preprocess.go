package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/transform"
)

const (
	// ResizeShortSide is the length the shorter image side is scaled to before cropping
	ResizeShortSide = 256
	// InputSize is the side of the square crop fed to the model
	InputSize = 224
	// MaxPixels is the largest declared width x height accepted for decoding
	MaxPixels = 25_000_000
)

// ImageNet channel statistics
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Preprocess decodes a JPEG, PNG or GIF payload, scales its shorter side to
// ResizeShortSide, centre-crops InputSize x InputSize and returns the
// normalised RGB tensor.
//
// The crop is taken from the source before resizing, so only an
// InputSize x InputSize image is ever resampled.
func Preprocess(payload []byte) (*Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	window := cropWindow(b)

	var cropped image.Image
	if si, ok := img.(subImager); ok {
		cropped = si.SubImage(window)
	} else {
		cropped = transform.Crop(img, window)
	}

	resized := transform.Resize(cropped, InputSize, InputSize, transform.Linear)
	return toTensor(resized), nil
}

// cropWindow returns the centred square of b that maps onto the InputSize
// crop once the shorter side is scaled to ResizeShortSide
func cropWindow(b image.Rectangle) image.Rectangle {
	short := min(b.Dx(), b.Dy())
	side := max((short*InputSize+ResizeShortSide/2)/ResizeShortSide, 1)

	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

func toTensor(img *image.RGBA) *Tensor {
	b := img.Bounds()
	size := InputSize * InputSize

	t := &Tensor{
		Channels: 3,
		Height:   InputSize,
		Width:    InputSize,
		Data:     make([]float32, 3*size),
	}

	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			p := y*InputSize + x
			for c := 0; c < 3; c++ {
				v := float32(img.Pix[i+c]) / 255
				t.Data[c*size+p] = (v - channelMean[c]) / channelStd[c]
			}
		}
	}

	return t
}
