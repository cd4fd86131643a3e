package profile

import (
	"fmt"
	"strings"
)

// DefaultQualityStep is the quality decrement applied between encode attempts.
const DefaultQualityStep = 5

// Profile is a named output configuration for one derivative rendition.
// Profiles are plain values and are never mutated after construction.
type Profile struct {
	Name         string
	Directory    string // output subdirectory, relative to the output root
	MaxDimension int    // bounding box edge in pixels, applies to width and height
	TargetSizeKB int    // soft ceiling, 1 KB = 1024 bytes
	StartQuality int
	MinQuality   int // inclusive floor
}

// Defaults returns the thumbnail and medium profiles.
func Defaults() []Profile {
	return []Profile{
		{
			Name:         "thumbnail",
			Directory:    "thumbnails",
			MaxDimension: 600,
			TargetSizeKB: 150,
			StartQuality: 85,
			MinQuality:   70,
		},
		{
			Name:         "medium",
			Directory:    "medium",
			MaxDimension: 2000,
			TargetSizeKB: 750,
			StartQuality: 90,
			MinQuality:   80,
		},
	}
}

// TargetBytes returns the size budget in bytes.
func (p Profile) TargetBytes() int64 {
	return int64(p.TargetSizeKB) * 1024
}

// MaxAttempts returns the upper bound of encode calls a quality search may make
// for this profile with the given step.
func (p Profile) MaxAttempts(step int) int {
	if step <= 0 {
		step = DefaultQualityStep
	}
	span := p.StartQuality - p.MinQuality
	if span <= 0 {
		return 1
	}
	return (span+step-1)/step + 1
}

// Validate checks that the profile describes a usable rendition.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Directory == "" {
		return fmt.Errorf("profile %q: directory is required", p.Name)
	}
	if strings.ContainsAny(p.Directory, `/\`) || p.Directory == "." || p.Directory == ".." {
		return fmt.Errorf("profile %q: directory must be a single path element: %s", p.Name, p.Directory)
	}
	if p.MaxDimension <= 0 {
		return fmt.Errorf("profile %q: max_dimension must be positive", p.Name)
	}
	if p.TargetSizeKB <= 0 {
		return fmt.Errorf("profile %q: target_size_kb must be positive", p.Name)
	}
	if p.MinQuality < 1 || p.MinQuality > 100 {
		return fmt.Errorf("profile %q: min_quality must be in 1..100, got %d", p.Name, p.MinQuality)
	}
	if p.StartQuality < p.MinQuality || p.StartQuality > 100 {
		return fmt.Errorf("profile %q: start_quality must be in %d..100, got %d", p.Name, p.MinQuality, p.StartQuality)
	}
	return nil
}

// ValidateSet validates every profile and rejects duplicate names or directories.
func ValidateSet(profiles []Profile) error {
	if len(profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	names := make(map[string]struct{}, len(profiles))
	dirs := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicate profile name: %s", p.Name)
		}
		if _, ok := dirs[p.Directory]; ok {
			return fmt.Errorf("duplicate profile directory: %s", p.Directory)
		}
		names[p.Name] = struct{}{}
		dirs[p.Directory] = struct{}{}
	}
	return nil
}
