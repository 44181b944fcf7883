package pii

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/happy2234/gopnik/internal/boxes"
)

// DuplicateIoUThreshold is the default IoU at or above which two same-type,
// same-page detections are considered duplicates.
const DuplicateIoUThreshold = 0.5

// Detection is an immutable value object describing one localized PII
// assertion. Merges never mutate a Detection in place; they produce a new
// one.
type Detection struct {
	ID              string
	Type            Type
	BoundingBox     boxes.BoundingBox
	Confidence      float64
	PageNumber      int
	TextContent     string
	DetectionMethod Method
	Metadata        map[string]any
	Timestamp       time.Time
}

// New constructs a Detection, validating confidence, box, and page number.
func New(t Type, box boxes.BoundingBox, confidence float64, page int, method Method) (Detection, error) {
	if confidence < 0 || confidence > 1 {
		return Detection{}, fmt.Errorf("pii: confidence %f out of range [0,1]", confidence)
	}
	if err := box.Validate(); err != nil {
		return Detection{}, fmt.Errorf("pii: %w", err)
	}
	if page < 0 {
		return Detection{}, fmt.Errorf("pii: negative page number %d", page)
	}
	return Detection{
		ID:              uuid.NewString(),
		Type:            t,
		BoundingBox:     box,
		Confidence:      confidence,
		PageNumber:      page,
		DetectionMethod: method,
		Metadata:        map[string]any{},
		Timestamp:       time.Now().UTC(),
	}, nil
}

// WithMetadata returns a copy of d with key set in its metadata map.
func (d Detection) WithMetadata(key string, value any) Detection {
	cp := d.clone()
	cp.Metadata[key] = value
	return cp
}

// WithTextContent returns a copy of d carrying the given text content.
func (d Detection) WithTextContent(text string) Detection {
	cp := d.clone()
	cp.TextContent = text
	return cp
}

func (d Detection) clone() Detection {
	cp := d
	cp.Metadata = make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}

// IsDuplicateOf reports whether d and other are duplicates: same type, same
// page, IoU at or above threshold.
func (d Detection) IsDuplicateOf(other Detection, threshold float64) bool {
	if threshold <= 0 {
		threshold = DuplicateIoUThreshold
	}
	if d.Type != other.Type || d.PageNumber != other.PageNumber {
		return false
	}
	return d.BoundingBox.IoU(other.BoundingBox) >= threshold
}

// Merge combines d and other: the type comes from the higher-confidence
// detection, the bounding box is the union, the confidence is the max,
// provenance is recorded, and the method becomes hybrid when the sources
// differ.
func Merge(d, other Detection) Detection {
	winner, loser := d, other
	if other.Confidence > d.Confidence {
		winner, loser = other, d
	}

	merged := winner.clone()
	merged.ID = uuid.NewString()
	merged.BoundingBox = d.BoundingBox.Union(other.BoundingBox)
	merged.Confidence = maxFloat(d.Confidence, other.Confidence)
	merged.Metadata["merged_from"] = []string{d.ID, other.ID}
	merged.Timestamp = time.Now().UTC()

	if d.DetectionMethod != other.DetectionMethod {
		merged.DetectionMethod = MethodHybrid
	}
	_ = loser
	return merged
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
