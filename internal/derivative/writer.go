// Package derivative renders every configured profile for one source image
// and writes the results to disk.
package derivative

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"photo-derivatives-go/internal/codec"
	"photo-derivatives-go/internal/compressor"
	"photo-derivatives-go/internal/hasher"
	"photo-derivatives-go/internal/logger"
	"photo-derivatives-go/internal/profile"
)

// SourceImage is the content of one source file as read for this run.
type SourceImage struct {
	Filename string
	Data     []byte
	Digest   hasher.Digest
}

// Stem returns the filename without its extension.
func (s SourceImage) Stem() string {
	return strings.TrimSuffix(s.Filename, filepath.Ext(s.Filename))
}

// Derivative is the written output for one (source, profile) pair.
type Derivative struct {
	Profile      string `json:"profile"`
	Path         string `json:"path"`
	Quality      int    `json:"quality"`
	Size         int64  `json:"size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Attempts     int    `json:"attempts"`
	WithinBudget bool   `json:"within_budget"`
}

// DestinationFunc returns the output path for a profile.
type DestinationFunc func(p profile.Profile) string

// Writer renders and writes derivatives for a fixed list of profiles.
type Writer struct {
	codec    codec.Codec
	searcher compressor.Searcher
	profiles []profile.Profile
	logger   *logrus.Logger
}

// NewWriter creates a Writer for the given profiles.
func NewWriter(c codec.Codec, searcher compressor.Searcher, profiles []profile.Profile, logger *logrus.Logger) *Writer {
	return &Writer{
		codec:    c,
		searcher: searcher,
		profiles: append([]profile.Profile(nil), profiles...),
		logger:   logger,
	}
}

// Profiles returns the profiles rendered by the writer.
func (w *Writer) Profiles() []profile.Profile {
	return append([]profile.Profile(nil), w.profiles...)
}

// Extension returns the extension of written derivatives.
func (w *Writer) Extension() string {
	return w.codec.Extension()
}

// Process decodes src once and renders each profile independently. A failure
// in one profile does not stop the others; the returned map holds the
// derivatives that were written and the error joins every profile failure.
func (w *Writer) Process(ctx context.Context, src SourceImage, dest DestinationFunc) (map[string]Derivative, error) {
	decoded, err := w.codec.Decode(src.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src.Filename, err)
	}

	normalized, err := w.codec.Normalize(decoded)
	if err != nil {
		return nil, fmt.Errorf("normalize orientation of %s: %w", src.Filename, err)
	}

	results := make(map[string]Derivative, len(w.profiles))
	var errs []error
	for _, p := range w.profiles {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		d, err := w.render(ctx, normalized, p, dest(p))
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
			continue
		}
		results[p.Name] = *d
	}

	return results, errors.Join(errs...)
}

func (w *Writer) render(ctx context.Context, img *codec.Image, p profile.Profile, path string) (*Derivative, error) {
	start := time.Now()

	resized, err := w.codec.Resize(img, p.MaxDimension, p.MaxDimension, codec.FitInside)
	if err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}

	res, err := w.searcher.Search(ctx, resized, p)
	if err != nil {
		return nil, fmt.Errorf("quality search: %w", err)
	}

	if err := writeFileAtomic(path, res.Data); err != nil {
		return nil, err
	}

	entry := logger.WithFileOperation(w.logger, path, "write").WithFields(logrus.Fields{
		"profile":    p.Name,
		"quality":    res.Quality,
		"size":       humanize.IBytes(uint64(res.Size)),
		"dimensions": fmt.Sprintf("%dx%d", resized.Width, resized.Height),
		"attempts":   len(res.Attempts),
		"elapsed":    time.Since(start).Round(time.Millisecond).String(),
	})
	if res.WithinBudget {
		entry.Debug("Derivative written")
	} else {
		entry.Warnf("Derivative exceeds target size of %s at minimum quality", humanize.IBytes(uint64(p.TargetBytes())))
	}

	return &Derivative{
		Profile:      p.Name,
		Path:         path,
		Quality:      res.Quality,
		Size:         res.Size,
		Width:        resized.Width,
		Height:       resized.Height,
		Attempts:     len(res.Attempts),
		WithinBudget: res.WithinBudget,
	}, nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers see either the previous file or the complete new one.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename error: %w", err)
	}
	return nil
}
