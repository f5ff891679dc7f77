package domain

import (
	"fmt"
	"strings"
)

// QualityTier is an image re-encoding preset.
type QualityTier struct {
	Name         string
	MaxDimension int // longest side in pixels
	JPEGQuality  int // 1-100
}

// Quality presets.
var (
	QualityLow    = QualityTier{Name: "low", MaxDimension: 800, JPEGQuality: 60}
	QualityMedium = QualityTier{Name: "medium", MaxDimension: 1200, JPEGQuality: 80}
	QualityHigh   = QualityTier{Name: "high", MaxDimension: 1920, JPEGQuality: 95}
)

// ParseQualityTier maps a tier name to its preset. The empty string selects
// QualityHigh.
func ParseQualityTier(name string) (QualityTier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "high", "":
		return QualityHigh, nil
	}
	return QualityTier{}, fmt.Errorf("%w: %q", ErrInvalidQuality, name)
}

// LocalMedia describes a file written by the materializer.
type LocalMedia struct {
	// Src is the root-relative path served back to consumers.
	Src string
	// Path is the absolute location on disk.
	Path      string
	Width     int
	Height    int
	Size      int64
	Thumbnail string // root-relative thumbnail path, videos only
}
