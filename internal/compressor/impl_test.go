package compressor_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-derivatives-go/internal/codec"
	"photo-derivatives-go/internal/compressor"
	"photo-derivatives-go/internal/extractor"
	"photo-derivatives-go/internal/profile"
)

// sizeCodec returns an encoding whose length is looked up by quality.
type sizeCodec struct {
	sizes    map[int]int
	fallback int
	calls    []int
	failAt   int
}

func (c *sizeCodec) Decode([]byte) (*codec.Image, error) { return nil, errors.New("unused") }

func (c *sizeCodec) Normalize(img *codec.Image) (*codec.Image, error) { return img, nil }

func (c *sizeCodec) Resize(img *codec.Image, _, _ int, _ codec.ResizeOptions) (*codec.Image, error) {
	return img, nil
}

func (c *sizeCodec) Encode(_ *codec.Image, quality int) ([]byte, error) {
	c.calls = append(c.calls, quality)
	if c.failAt != 0 && quality == c.failAt {
		return nil, errors.New("encoder exploded")
	}
	n, ok := c.sizes[quality]
	if !ok {
		n = c.fallback
	}
	return make([]byte, n), nil
}

func (c *sizeCodec) Extension() string { return ".jpg" }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func testProfile() profile.Profile {
	return profile.Profile{
		Name:         "thumbnail",
		Directory:    "thumbnails",
		MaxDimension: 600,
		TargetSizeKB: 1, // 1024 bytes
		StartQuality: 85,
		MinQuality:   70,
	}
}

func TestSearchAcceptsFirstAttemptWithinBudget(t *testing.T) {
	c := &sizeCodec{fallback: 1000}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	res, err := s.Search(context.Background(), &codec.Image{}, testProfile())
	require.NoError(t, err)

	assert.Equal(t, []int{85}, c.calls)
	assert.Equal(t, 85, res.Quality)
	assert.Equal(t, int64(1000), res.Size)
	assert.True(t, res.WithinBudget)
	assert.Len(t, res.Attempts, 1)
}

func TestSearchBudgetIsInclusive(t *testing.T) {
	c := &sizeCodec{fallback: 1024}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	res, err := s.Search(context.Background(), &codec.Image{}, testProfile())
	require.NoError(t, err)
	assert.True(t, res.WithinBudget)
	assert.Equal(t, []int{85}, c.calls)
}

func TestSearchDescendsUntilBudgetMet(t *testing.T) {
	c := &sizeCodec{sizes: map[int]int{85: 3000, 80: 2000, 75: 900}, fallback: 100}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	res, err := s.Search(context.Background(), &codec.Image{}, testProfile())
	require.NoError(t, err)

	assert.Equal(t, []int{85, 80, 75}, c.calls)
	assert.Equal(t, 75, res.Quality)
	assert.Equal(t, int64(900), res.Size)
	assert.Len(t, res.Data, 900)
	assert.True(t, res.WithinBudget)
}

func TestSearchReturnsFloorEncodingWhenBudgetUnreachable(t *testing.T) {
	c := &sizeCodec{fallback: 50_000}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	res, err := s.Search(context.Background(), &codec.Image{}, testProfile())
	require.NoError(t, err)

	assert.Equal(t, []int{85, 80, 75, 70}, c.calls)
	assert.Equal(t, 70, res.Quality)
	assert.False(t, res.WithinBudget)
	assert.Equal(t, int64(50_000), res.Size)
}

func TestSearchClampsLastStepToFloor(t *testing.T) {
	p := testProfile()
	p.StartQuality = 87
	p.MinQuality = 80
	c := &sizeCodec{fallback: 50_000}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	res, err := s.Search(context.Background(), &codec.Image{}, p)
	require.NoError(t, err)

	assert.Equal(t, []int{87, 82, 80}, c.calls)
	assert.Equal(t, 80, res.Quality)
	assert.Len(t, c.calls, p.MaxAttempts(5))
}

func TestSearchStartAtFloorMakesOneCall(t *testing.T) {
	p := testProfile()
	p.StartQuality = 70
	c := &sizeCodec{fallback: 50_000}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	res, err := s.Search(context.Background(), &codec.Image{}, p)
	require.NoError(t, err)
	assert.Equal(t, []int{70}, c.calls)
	assert.False(t, res.WithinBudget)
}

func TestSearchNonMonotoneSizesStopsAtFirstFit(t *testing.T) {
	// Size goes up again at 75, the scan still stops at the first fit.
	c := &sizeCodec{sizes: map[int]int{85: 2000, 80: 1000, 75: 1500, 70: 500}}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	res, err := s.Search(context.Background(), &codec.Image{}, testProfile())
	require.NoError(t, err)
	assert.Equal(t, []int{85, 80}, c.calls)
	assert.Equal(t, 80, res.Quality)
}

func TestSearchPropagatesEncodeError(t *testing.T) {
	c := &sizeCodec{fallback: 50_000, failAt: 75}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	_, err := s.Search(context.Background(), &codec.Image{}, testProfile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality 75")
}

func TestSearchRejectsInvalidProfile(t *testing.T) {
	p := testProfile()
	p.MinQuality = 95
	s := compressor.NewQualitySearcher(&sizeCodec{}, 5, quietLogger())

	_, err := s.Search(context.Background(), &codec.Image{}, p)
	assert.ErrorIs(t, err, compressor.ErrInvalidProfile)
}

func TestSearchHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &sizeCodec{fallback: 10}
	s := compressor.NewQualitySearcher(c, 5, quietLogger())

	_, err := s.Search(ctx, &codec.Image{}, testProfile())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.calls)
}

func TestNewQualitySearcherDefaultsStep(t *testing.T) {
	s := compressor.NewQualitySearcher(&sizeCodec{}, 0, quietLogger())
	assert.Equal(t, profile.DefaultQualityStep, s.Step())
}

// Property check over random size tables: quality never increases, the call
// count stays within the bound, and the result either fits or sits at the floor.
func TestSearchProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		p := testProfile()
		p.MinQuality = 1 + rng.Intn(90)
		p.StartQuality = p.MinQuality + rng.Intn(101-p.MinQuality)
		sizes := make(map[int]int)
		for q := p.MinQuality; q <= p.StartQuality; q++ {
			sizes[q] = rng.Intn(3000)
		}
		c := &sizeCodec{sizes: sizes}
		s := compressor.NewQualitySearcher(c, 5, quietLogger())

		res, err := s.Search(context.Background(), &codec.Image{}, p)
		require.NoError(t, err)

		for j := 1; j < len(c.calls); j++ {
			require.Less(t, c.calls[j], c.calls[j-1])
		}
		require.LessOrEqual(t, len(c.calls), p.MaxAttempts(5))
		if (p.StartQuality-p.MinQuality)%5 == 0 {
			require.LessOrEqual(t, len(c.calls), (p.StartQuality-p.MinQuality)/5+1)
		}
		require.True(t, res.Size <= p.TargetBytes() || res.Quality == p.MinQuality)
		require.Equal(t, res.WithinBudget, res.Size <= p.TargetBytes())
	}
}

// Real JPEG encoding of high-entropy noise cannot fit a tiny budget.
func TestSearchWithImagingCodecBestEffort(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	pix := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for i := range pix.Pix {
		pix.Pix[i] = uint8(rng.Intn(256))
	}
	img := &codec.Image{Width: 128, Height: 128, Pixels: pix}

	p := testProfile()
	p.TargetSizeKB = 1
	s := compressor.NewQualitySearcher(codec.NewImagingCodec(extractor.NewEXIFExtractor(quietLogger())), 5, quietLogger())

	res, err := s.Search(context.Background(), img, p)
	require.NoError(t, err)
	assert.Equal(t, p.MinQuality, res.Quality)
	assert.False(t, res.WithinBudget)
	assert.Greater(t, res.Size, p.TargetBytes())
	assert.Len(t, res.Attempts, 4)
}
