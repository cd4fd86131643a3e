package derivative

import (
	"path/filepath"

	"photo-derivatives-go/internal/profile"
)

// Layout places derivatives under Root, one subdirectory per profile, keeping
// the source filename stem and using Extension.
type Layout struct {
	Root      string
	Extension string
}

// Dir returns the output directory of a profile.
func (l Layout) Dir(p profile.Profile) string {
	return filepath.Join(l.Root, p.Directory)
}

// Path returns the output path of src rendered with p.
func (l Layout) Path(p profile.Profile, src SourceImage) string {
	return filepath.Join(l.Dir(p), src.Stem()+l.Extension)
}

// Destination returns a DestinationFunc bound to src.
func (l Layout) Destination(src SourceImage) DestinationFunc {
	return func(p profile.Profile) string {
		return l.Path(p, src)
	}
}
