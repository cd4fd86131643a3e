package extractor

// OrientationReader reads the EXIF orientation of an encoded image.
type OrientationReader interface {
	// ReadOrientation returns the orientation recorded in data, or
	// OrientationNormal when none is present or it cannot be parsed.
	ReadOrientation(data []byte) Orientation
}

// MetadataInspector reports the metadata embedded in an image file.
type MetadataInspector interface {
	Inspect(path string) (*Metadata, error)
}

// Orientation is the EXIF orientation tag value (1-8).
type Orientation int

const (
	OrientationUnspecified Orientation = iota
	OrientationNormal
	OrientationFlipH
	OrientationRotate180
	OrientationFlipV
	OrientationTranspose
	OrientationRotate90CW
	OrientationTransverse
	OrientationRotate90CCW
)

// IsValid reports whether o is one of the eight defined orientations.
func (o Orientation) IsValid() bool {
	return o >= OrientationNormal && o <= OrientationRotate90CCW
}

// SwapsDimensions reports whether normalizing o exchanges width and height.
func (o Orientation) SwapsDimensions() bool {
	return o >= OrientationTranspose && o <= OrientationRotate90CCW
}

// String returns a human-readable description of the orientation.
func (o Orientation) String() string {
	switch o {
	case OrientationNormal:
		return "Normal"
	case OrientationFlipH:
		return "Mirror horizontal"
	case OrientationRotate180:
		return "Rotate 180"
	case OrientationFlipV:
		return "Mirror vertical"
	case OrientationTranspose:
		return "Mirror horizontal and rotate 270 CW"
	case OrientationRotate90CW:
		return "Rotate 90 CW"
	case OrientationTransverse:
		return "Mirror horizontal and rotate 90 CW"
	case OrientationRotate90CCW:
		return "Rotate 270 CW"
	default:
		return "Unknown"
	}
}

// Metadata describes an image file as seen by an inspector.
type Metadata struct {
	Path        string
	Width       int
	Height      int
	Orientation Orientation
	Tags        map[string]string
	Source      string
}

// HasEmbeddedMetadata reports whether any EXIF tags were found.
func (m *Metadata) HasEmbeddedMetadata() bool {
	return len(m.Tags) > 0
}
