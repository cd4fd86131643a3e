package compressor

import (
	"context"
	"errors"

	"photo-derivatives-go/internal/codec"
	"photo-derivatives-go/internal/profile"
)

// ErrInvalidProfile is returned when a search is started with an unusable profile.
var ErrInvalidProfile = errors.New("invalid profile")

// Attempt records one encode call made during a search.
type Attempt struct {
	Quality int
	Size    int64
}

// Result describes the encoding selected by a quality search.
type Result struct {
	Data         []byte
	Quality      int
	Size         int64
	WithinBudget bool // false when the floor was reached while still over budget
	Attempts     []Attempt
}

// Searcher finds an encoding quality that satisfies a profile's size budget.
type Searcher interface {
	// Search encodes img at decreasing quality until the output fits the
	// profile's target size or the quality floor is reached. An oversized
	// result at the floor is returned without error.
	Search(ctx context.Context, img *codec.Image, p profile.Profile) (*Result, error)
}
