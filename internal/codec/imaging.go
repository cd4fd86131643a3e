package codec

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"photo-derivatives-go/internal/extractor"
)

var _ Codec = (*ImagingCodec)(nil)

// ImagingCodec implements Codec with disintegration/imaging and JPEG output.
type ImagingCodec struct {
	orientation extractor.OrientationReader
	filter      imaging.ResampleFilter
}

// NewImagingCodec returns a JPEG codec that reads orientation with the given reader.
func NewImagingCodec(orientation extractor.OrientationReader) *ImagingCodec {
	return &ImagingCodec{
		orientation: orientation,
		filter:      imaging.Lanczos,
	}
}

// Decode implements Codec.
func (c *ImagingCodec) Decode(data []byte) (*Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	return &Image{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Orientation: c.orientation.ReadOrientation(data),
		Pixels:      img,
	}, nil
}

// Normalize implements Codec.
func (c *ImagingCodec) Normalize(img *Image) (*Image, error) {
	if img == nil || img.Pixels == nil {
		return nil, ErrEmptyImage
	}

	var out image.Image
	switch img.Orientation {
	case extractor.OrientationFlipH:
		out = imaging.FlipH(img.Pixels)
	case extractor.OrientationRotate180:
		out = imaging.Rotate180(img.Pixels)
	case extractor.OrientationFlipV:
		out = imaging.FlipV(img.Pixels)
	case extractor.OrientationTranspose:
		out = imaging.Transpose(img.Pixels)
	case extractor.OrientationRotate90CW:
		out = imaging.Rotate270(img.Pixels)
	case extractor.OrientationTransverse:
		out = imaging.Transverse(img.Pixels)
	case extractor.OrientationRotate90CCW:
		out = imaging.Rotate90(img.Pixels)
	default:
		out = img.Pixels
	}

	b := out.Bounds()
	return &Image{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Orientation: extractor.OrientationNormal,
		Pixels:      out,
	}, nil
}

// Resize implements Codec.
func (c *ImagingCodec) Resize(img *Image, maxW, maxH int, opts ResizeOptions) (*Image, error) {
	if img == nil || img.Pixels == nil {
		return nil, ErrEmptyImage
	}
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("invalid bounding box %dx%d", maxW, maxH)
	}

	w, h := maxW, maxH
	if opts.PreserveAspect {
		w, h = FitDimensions(img.Width, img.Height, maxW, maxH, opts.NoUpscale)
	} else if opts.NoUpscale {
		w, h = min(img.Width, maxW), min(img.Height, maxH)
	}

	if w == img.Width && h == img.Height {
		return img, nil
	}

	out := imaging.Resize(img.Pixels, w, h, c.filter)
	return &Image{
		Width:       w,
		Height:      h,
		Orientation: img.Orientation,
		Pixels:      out,
	}, nil
}

// Encode implements Codec.
func (c *ImagingCodec) Encode(img *Image, quality int) ([]byte, error) {
	if img == nil || img.Pixels == nil {
		return nil, ErrEmptyImage
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img.Pixels, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Extension implements Codec.
func (c *ImagingCodec) Extension() string {
	return ".jpg"
}
