// Package codec decodes, transforms and encodes raster images for derivative
// generation. Callers never touch pixels directly; they go through Codec.
package codec

import (
	"errors"
	"image"

	"photo-derivatives-go/internal/extractor"
)

var (
	// ErrEmptyImage is returned when an image has no pixels.
	ErrEmptyImage = errors.New("image has no pixels")

	// ErrInvalidQuality is returned for an encode quality outside 1..100.
	ErrInvalidQuality = errors.New("quality out of range")
)

// Image is a decoded raster together with the orientation recorded in the
// source metadata.
type Image struct {
	Width       int
	Height      int
	Orientation extractor.Orientation
	Pixels      image.Image
}

// ResizeOptions controls how Resize fits an image into its bounding box.
type ResizeOptions struct {
	PreserveAspect bool
	NoUpscale      bool
}

// FitInside is the fit-inside resize mode used for derivatives.
var FitInside = ResizeOptions{PreserveAspect: true, NoUpscale: true}

// Codec is the image decode/resize/encode capability.
type Codec interface {
	// Decode parses an encoded image and reads its orientation.
	Decode(data []byte) (*Image, error)

	// Normalize applies the recorded orientation to the pixels and resets it.
	Normalize(img *Image) (*Image, error)

	// Resize scales img to fit the maxW x maxH box according to opts.
	Resize(img *Image, maxW, maxH int, opts ResizeOptions) (*Image, error)

	// Encode encodes img at the given quality. The output carries no metadata.
	Encode(img *Image, quality int) ([]byte, error)

	// Extension returns the canonical file extension of encoded output, with the dot.
	Extension() string
}

// FitDimensions returns the size of a w x h image scaled to fit inside the
// maxW x maxH box while preserving the aspect ratio. When noUpscale is set an
// image that already fits keeps its size.
func FitDimensions(w, h, maxW, maxH int, noUpscale bool) (int, int) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return w, h
	}
	if noUpscale && w <= maxW && h <= maxH {
		return w, h
	}

	// Compare aspect ratios with integer arithmetic: w/h > maxW/maxH.
	if int64(w)*int64(maxH) > int64(h)*int64(maxW) {
		nh := int((int64(h)*int64(maxW) + int64(w)/2) / int64(w))
		return maxW, clamp(nh, 1, maxH)
	}
	nw := int((int64(w)*int64(maxH) + int64(h)/2) / int64(h))
	return clamp(nw, 1, maxW), maxH
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
