package derivative_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-derivatives-go/internal/codec"
	"photo-derivatives-go/internal/compressor"
	"photo-derivatives-go/internal/derivative"
	"photo-derivatives-go/internal/extractor"
	"photo-derivatives-go/internal/profile"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func noisyJPEG(t *testing.T, w, h int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)))
	return buf.Bytes()
}

// withOrientation inserts an APP1 Exif segment holding a single big-endian
// Orientation tag right after the SOI marker of a baseline JPEG.
func withOrientation(t *testing.T, jpeg []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, len(jpeg) > 2 && jpeg[0] == 0xFF && jpeg[1] == 0xD8)

	tiffBlock := []byte{
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // header, IFD0 at offset 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, // Orientation, SHORT, count 1
		byte(orientation >> 8), byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiffBlock...)
	length := len(payload) + 2

	out := []byte{0xFF, 0xD8, 0xFF, 0xE1, byte(length >> 8), byte(length)}
	out = append(out, payload...)
	return append(out, jpeg[2:]...)
}

func smallProfiles() []profile.Profile {
	return []profile.Profile{
		{Name: "thumbnail", Directory: "thumbnails", MaxDimension: 40, TargetSizeKB: 150, StartQuality: 85, MinQuality: 70},
		{Name: "medium", Directory: "medium", MaxDimension: 100, TargetSizeKB: 750, StartQuality: 90, MinQuality: 80},
	}
}

func newWriter(c codec.Codec, profiles []profile.Profile) *derivative.Writer {
	log := quietLogger()
	return derivative.NewWriter(c, compressor.NewQualitySearcher(c, 5, log), profiles, log)
}

func imagingCodec() *codec.ImagingCodec {
	return codec.NewImagingCodec(extractor.NewEXIFExtractor(quietLogger()))
}

func TestProcessWritesEveryProfile(t *testing.T) {
	out := t.TempDir()
	c := imagingCodec()
	w := newWriter(c, smallProfiles())
	layout := derivative.Layout{Root: out, Extension: w.Extension()}

	src := derivative.SourceImage{Filename: "IMG_0001.JPEG", Data: noisyJPEG(t, 200, 120, 1)}
	got, err := w.Process(context.Background(), src, layout.Destination(src))
	require.NoError(t, err)
	require.Len(t, got, 2)

	thumb := got["thumbnail"]
	assert.Equal(t, filepath.Join(out, "thumbnails", "IMG_0001.jpg"), thumb.Path)
	assert.Equal(t, 40, thumb.Width)
	assert.Equal(t, 24, thumb.Height)
	assert.Equal(t, 85, thumb.Quality)
	assert.True(t, thumb.WithinBudget)
	assert.Equal(t, 1, thumb.Attempts)

	medium := got["medium"]
	assert.Equal(t, filepath.Join(out, "medium", "IMG_0001.jpg"), medium.Path)
	assert.Equal(t, 100, medium.Width)
	assert.Equal(t, 60, medium.Height)

	for _, d := range got {
		data, err := os.ReadFile(d.Path)
		require.NoError(t, err)
		assert.Equal(t, d.Size, int64(len(data)))

		img, err := imaging.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, d.Width, img.Bounds().Dx())
		assert.Equal(t, d.Height, img.Bounds().Dy())
	}
}

func TestProcessAppliesOrientationAndStripsEXIF(t *testing.T) {
	out := t.TempDir()
	w := newWriter(imagingCodec(), smallProfiles()[1:])
	layout := derivative.Layout{Root: out, Extension: ".jpg"}

	src := derivative.SourceImage{Filename: "portrait.jpg", Data: withOrientation(t, noisyJPEG(t, 80, 40, 7), 6)}
	_, err := exif.Decode(bytes.NewReader(src.Data))
	require.NoError(t, err, "source must carry EXIF")

	got, err := w.Process(context.Background(), src, layout.Destination(src))
	require.NoError(t, err)

	d := got["medium"]
	assert.Equal(t, 40, d.Width)
	assert.Equal(t, 80, d.Height)

	data, err := os.ReadFile(d.Path)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())

	_, err = exif.Decode(bytes.NewReader(data))
	assert.Error(t, err, "derivative must not carry EXIF")
}

func TestProcessNeverUpscales(t *testing.T) {
	out := t.TempDir()
	w := newWriter(imagingCodec(), smallProfiles())
	layout := derivative.Layout{Root: out, Extension: ".jpg"}

	src := derivative.SourceImage{Filename: "tiny.jpg", Data: noisyJPEG(t, 30, 20, 2)}
	got, err := w.Process(context.Background(), src, layout.Destination(src))
	require.NoError(t, err)

	for _, d := range got {
		assert.Equal(t, 30, d.Width, d.Profile)
		assert.Equal(t, 20, d.Height, d.Profile)
	}
}

func TestProcessIsDeterministic(t *testing.T) {
	data := noisyJPEG(t, 160, 90, 3)
	w := newWriter(imagingCodec(), smallProfiles())

	read := func() map[string][]byte {
		out := t.TempDir()
		layout := derivative.Layout{Root: out, Extension: ".jpg"}
		src := derivative.SourceImage{Filename: "a.jpg", Data: data}
		got, err := w.Process(context.Background(), src, layout.Destination(src))
		require.NoError(t, err)
		files := make(map[string][]byte)
		for name, d := range got {
			b, err := os.ReadFile(d.Path)
			require.NoError(t, err)
			files[name] = b
		}
		return files
	}

	assert.Equal(t, read(), read())
}

func TestProcessOverwritesPreviousDerivative(t *testing.T) {
	out := t.TempDir()
	w := newWriter(imagingCodec(), smallProfiles()[:1])
	layout := derivative.Layout{Root: out, Extension: ".jpg"}
	src := derivative.SourceImage{Filename: "a.jpg", Data: noisyJPEG(t, 80, 80, 4)}

	stale := layout.Path(smallProfiles()[0], src)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o600))

	_, err := w.Process(context.Background(), src, layout.Destination(src))
	require.NoError(t, err)

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("stale"), data)

	entries, err := os.ReadDir(filepath.Dir(stale))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestProcessWritesOversizedFloorResult(t *testing.T) {
	out := t.TempDir()
	profiles := []profile.Profile{
		{Name: "thumbnail", Directory: "thumbnails", MaxDimension: 64, TargetSizeKB: 1, StartQuality: 85, MinQuality: 70},
	}
	w := newWriter(imagingCodec(), profiles)
	layout := derivative.Layout{Root: out, Extension: ".jpg"}
	src := derivative.SourceImage{Filename: "noise.jpg", Data: noisyJPEG(t, 64, 64, 5)}

	got, err := w.Process(context.Background(), src, layout.Destination(src))
	require.NoError(t, err)

	d := got["thumbnail"]
	assert.False(t, d.WithinBudget)
	assert.Equal(t, 70, d.Quality)
	assert.Equal(t, 4, d.Attempts)
	assert.FileExists(t, d.Path)
}

func TestProcessDecodeFailure(t *testing.T) {
	out := t.TempDir()
	w := newWriter(imagingCodec(), smallProfiles())
	layout := derivative.Layout{Root: out, Extension: ".jpg"}
	src := derivative.SourceImage{Filename: "broken.jpg", Data: []byte("not a jpeg")}

	got, err := w.Process(context.Background(), src, layout.Destination(src))
	require.Error(t, err)
	assert.Empty(t, got)
	assert.NoFileExists(t, filepath.Join(out, "thumbnails", "broken.jpg"))
}

// failingResizeCodec fails resizing for one bounding box size only.
type failingResizeCodec struct {
	*codec.ImagingCodec
	failFor int
}

func (c failingResizeCodec) Resize(img *codec.Image, maxW, maxH int, opts codec.ResizeOptions) (*codec.Image, error) {
	if maxW == c.failFor {
		return nil, errors.New("resize failed")
	}
	return c.ImagingCodec.Resize(img, maxW, maxH, opts)
}

func TestProcessProfilesFailIndependently(t *testing.T) {
	out := t.TempDir()
	c := failingResizeCodec{ImagingCodec: imagingCodec(), failFor: 40}
	w := newWriter(c, smallProfiles())
	layout := derivative.Layout{Root: out, Extension: ".jpg"}
	src := derivative.SourceImage{Filename: "a.jpg", Data: noisyJPEG(t, 200, 200, 6)}

	got, err := w.Process(context.Background(), src, layout.Destination(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile thumbnail")

	require.Len(t, got, 1)
	assert.Contains(t, got, "medium")
	assert.FileExists(t, filepath.Join(out, "medium", "a.jpg"))
	assert.NoFileExists(t, filepath.Join(out, "thumbnails", "a.jpg"))
}

func TestSourceImageStem(t *testing.T) {
	assert.Equal(t, "IMG_1", derivative.SourceImage{Filename: "IMG_1.JPG"}.Stem())
	assert.Equal(t, "a.b", derivative.SourceImage{Filename: "a.b.jpeg"}.Stem())
}

func TestWriterProfilesIsACopy(t *testing.T) {
	w := newWriter(imagingCodec(), smallProfiles())
	ps := w.Profiles()
	ps[0].Name = "changed"
	assert.Equal(t, "thumbnail", w.Profiles()[0].Name)
}
