package compressor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"photo-derivatives-go/internal/codec"
	"photo-derivatives-go/internal/profile"
)

var _ Searcher = (*QualitySearcher)(nil)

// QualitySearcher is a linear descending quality search. Every step from the
// start quality down to the floor is tried in order.
type QualitySearcher struct {
	codec  codec.Codec
	step   int
	logger *logrus.Logger
}

// NewQualitySearcher creates a searcher that lowers quality by step between
// attempts. A non-positive step selects profile.DefaultQualityStep.
func NewQualitySearcher(c codec.Codec, step int, logger *logrus.Logger) *QualitySearcher {
	if step <= 0 {
		step = profile.DefaultQualityStep
	}
	return &QualitySearcher{
		codec:  c,
		step:   step,
		logger: logger,
	}
}

// Step returns the quality decrement between attempts.
func (s *QualitySearcher) Step() int {
	return s.step
}

// Search implements Searcher.
func (s *QualitySearcher) Search(ctx context.Context, img *codec.Image, p profile.Profile) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	budget := p.TargetBytes()
	limit := p.MaxAttempts(s.step)
	quality := p.StartQuality
	res := &Result{Attempts: make([]Attempt, 0, limit)}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := s.codec.Encode(img, quality)
		if err != nil {
			return nil, fmt.Errorf("encode at quality %d: %w", quality, err)
		}

		size := int64(len(data))
		res.Attempts = append(res.Attempts, Attempt{Quality: quality, Size: size})
		res.Data = data
		res.Quality = quality
		res.Size = size

		s.logger.WithFields(logrus.Fields{
			"profile": p.Name,
			"quality": quality,
			"size":    size,
			"budget":  budget,
		}).Debug("Encode attempt")

		if size <= budget {
			res.WithinBudget = true
			return res, nil
		}

		// The floor was tried; keep the oversized result as best effort.
		if quality <= p.MinQuality || len(res.Attempts) >= limit {
			return res, nil
		}

		quality = max(quality-s.step, p.MinQuality)
	}
}
