package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"github.com/sirupsen/logrus"
)

var (
	_ OrientationReader = (*EXIFExtractor)(nil)
	_ MetadataInspector = (*EXIFExtractor)(nil)
	_ MetadataInspector = (*ExiftoolInspector)(nil)
)

// EXIFExtractor reads EXIF data using the rwcarlsen/goexif library.
type EXIFExtractor struct {
	logger *logrus.Logger
}

// NewEXIFExtractor returns a new EXIFExtractor.
func NewEXIFExtractor(logger *logrus.Logger) *EXIFExtractor {
	return &EXIFExtractor{logger: logger}
}

// ReadOrientation returns the orientation stored in the EXIF block of data.
func (e *EXIFExtractor) ReadOrientation(data []byte) Orientation {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		e.logger.Debugf("No EXIF data: %v", err)
		return OrientationNormal
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}

	v, err := tag.Int(0)
	if err != nil {
		e.logger.Debugf("Unreadable orientation tag: %v", err)
		return OrientationNormal
	}

	o := Orientation(v)
	if !o.IsValid() {
		e.logger.Debugf("Ignoring out of range orientation %d", v)
		return OrientationNormal
	}
	return o
}

// Inspect decodes the file header and lists its EXIF tags.
func (e *EXIFExtractor) Inspect(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	meta, err := decodeDimensions(path, data)
	if err != nil {
		return nil, err
	}
	meta.Source = "goexif"
	meta.Orientation = e.ReadOrientation(data)

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return meta, nil
	}

	w := &tagCollector{tags: meta.Tags}
	if err := x.Walk(w); err != nil {
		return nil, fmt.Errorf("failed to walk EXIF tags: %w", err)
	}
	return meta, nil
}

type tagCollector struct {
	tags map[string]string
}

func (c *tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.tags[string(name)] = strings.Trim(tag.String(), `"`)
	return nil
}

// ExiftoolInspector lists metadata with the exiftool binary and falls back to
// goexif when exiftool is not installed.
type ExiftoolInspector struct {
	logger   *logrus.Logger
	fallback *EXIFExtractor
}

// NewExiftoolInspector returns a new ExiftoolInspector.
func NewExiftoolInspector(logger *logrus.Logger) *ExiftoolInspector {
	return &ExiftoolInspector{
		logger:   logger,
		fallback: NewEXIFExtractor(logger),
	}
}

// exiftool fields that describe the file itself rather than embedded metadata.
var fileLevelFields = []string{"SourceFile", "ExifTool", "File", "Directory", "FileName",
	"FileSize", "FileModifyDate", "FileAccessDate", "FileInodeChangeDate", "FilePermissions",
	"FileType", "FileTypeExtension", "MIMEType", "ImageWidth", "ImageHeight", "ImageSize",
	"Megapixels", "EncodingProcess", "BitsPerSample", "ColorComponents", "YCbCrSubSampling",
	"ExifToolVersion"}

// Inspect implements MetadataInspector.
func (i *ExiftoolInspector) Inspect(path string) (*Metadata, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		i.logger.Debugf("exiftool unavailable, using goexif: %v", err)
		return i.fallback.Inspect(path)
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no result for %s", path)
	}
	if files[0].Err != nil {
		return nil, fmt.Errorf("exiftool failed: %w", files[0].Err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	meta, err := decodeDimensions(path, data)
	if err != nil {
		return nil, err
	}
	meta.Source = "exiftool"
	meta.Orientation = i.fallback.ReadOrientation(data)

	for key, value := range files[0].Fields {
		if isFileLevelField(key) {
			continue
		}
		meta.Tags[key] = fmt.Sprint(value)
	}
	return meta, nil
}

func isFileLevelField(key string) bool {
	return slices.Contains(fileLevelFields, key)
}

func decodeDimensions(path string, data []byte) (*Metadata, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	return &Metadata{
		Path:   path,
		Width:  cfg.Width,
		Height: cfg.Height,
		Tags:   make(map[string]string),
	}, nil
}

// SortedTagNames returns the tag names of m in lexical order.
func SortedTagNames(m *Metadata) []string {
	names := make([]string, 0, len(m.Tags))
	for name := range m.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
