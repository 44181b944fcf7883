package pii

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sort"
)

// Collection is an ordered set of detections belonging to one document.
type Collection struct {
	detections []Detection
}

// NewCollection builds a Collection from the given detections, preserving
// order.
func NewCollection(detections ...Detection) *Collection {
	c := &Collection{detections: make([]Detection, len(detections))}
	copy(c.detections, detections)
	return c
}

// Add appends a detection to the collection.
func (c *Collection) Add(d Detection) { c.detections = append(c.detections, d) }

// All returns the detections in collection order. Callers must not mutate
// the returned slice's elements, but may safely append to a copy.
func (c *Collection) All() []Detection {
	out := make([]Detection, len(c.detections))
	copy(out, c.detections)
	return out
}

// Len returns the number of detections.
func (c *Collection) Len() int { return len(c.detections) }

// Filter describes the selection criteria accepted by Collection.Filter.
type Filter struct {
	Type            *Type
	Page            *int
	MinConfidence   *float64
	VisualOnly      bool
	TextOnly        bool
	SensitiveOnly   bool
}

// Filter returns a new Collection containing only detections matching f.
func (c *Collection) Filter(f Filter) *Collection {
	out := NewCollection()
	for _, d := range c.detections {
		if f.Type != nil && d.Type != *f.Type {
			continue
		}
		if f.Page != nil && d.PageNumber != *f.Page {
			continue
		}
		if f.MinConfidence != nil && d.Confidence < *f.MinConfidence {
			continue
		}
		if f.VisualOnly && !d.Type.IsVisual() {
			continue
		}
		if f.TextOnly && !d.Type.IsText() {
			continue
		}
		if f.SensitiveOnly && !d.Type.IsSensitive() {
			continue
		}
		out.Add(d)
	}
	return out
}

// SortBy describes the key Collection.Sort orders by.
type SortBy int

const (
	SortByConfidence SortBy = iota
	SortByArea
)

// Sort returns a new Collection ordered descending by the given key.
func (c *Collection) Sort(by SortBy) *Collection {
	out := NewCollection(c.detections...)
	sort.SliceStable(out.detections, func(i, j int) bool {
		switch by {
		case SortByArea:
			return out.detections[i].BoundingBox.Area() > out.detections[j].BoundingBox.Area()
		default:
			return out.detections[i].Confidence > out.detections[j].Confidence
		}
	})
	return out
}

// Deduplicate merges every cluster of duplicate detections (same type, same
// page, IoU >= threshold) into one, applying Merge repeatedly within each
// cluster. A threshold <= 0 uses DuplicateIoUThreshold.
func (c *Collection) Deduplicate(threshold float64) *Collection {
	remaining := c.All()
	var merged []Detection

	for len(remaining) > 0 {
		cluster := []Detection{remaining[0]}
		rest := remaining[1:]
		var unclustered []Detection

		changed := true
		for changed {
			changed = false
			var stillUnclustered []Detection
			for _, cand := range rest {
				joined := false
				for _, m := range cluster {
					if m.IsDuplicateOf(cand, threshold) {
						joined = true
						break
					}
				}
				if joined {
					cluster = append(cluster, cand)
					changed = true
				} else {
					stillUnclustered = append(stillUnclustered, cand)
				}
			}
			rest = stillUnclustered
		}
		unclustered = rest

		result := cluster[0]
		for _, d := range cluster[1:] {
			result = Merge(result, d)
		}
		merged = append(merged, result)
		remaining = unclustered
	}

	return NewCollection(merged...)
}

// Statistics summarizes a collection's contents.
type Statistics struct {
	CountByType   map[Type]int
	CountByPage   map[int]int
	CountByMethod map[Method]int
	MinConfidence float64
	MaxConfidence float64
	MeanConfidence float64
}

// Stats computes aggregate statistics over the collection.
func (c *Collection) Stats() Statistics {
	s := Statistics{
		CountByType:   map[Type]int{},
		CountByPage:   map[int]int{},
		CountByMethod: map[Method]int{},
	}
	if len(c.detections) == 0 {
		return s
	}
	s.MinConfidence = 1.0
	var sum float64
	for _, d := range c.detections {
		s.CountByType[d.Type]++
		s.CountByPage[d.PageNumber]++
		s.CountByMethod[d.DetectionMethod]++
		if d.Confidence < s.MinConfidence {
			s.MinConfidence = d.Confidence
		}
		if d.Confidence > s.MaxConfidence {
			s.MaxConfidence = d.Confidence
		}
		sum += d.Confidence
	}
	s.MeanConfidence = sum / float64(len(c.detections))
	return s
}

type jsonDetection struct {
	ID              string         `json:"id"`
	Type            Type           `json:"type"`
	BoundingBox     json.RawMessage `json:"bounding_box"`
	Confidence      float64        `json:"confidence"`
	PageNumber      int            `json:"page_number"`
	TextContent     string         `json:"text_content,omitempty"`
	DetectionMethod Method         `json:"detection_method"`
	Metadata        map[string]any `json:"metadata"`
	Timestamp       string         `json:"timestamp"`
}

// ToJSON exports the collection as a JSON array of detections, including
// derived bounding-box fields.
func (c *Collection) ToJSON() ([]byte, error) {
	items := make([]jsonDetection, 0, len(c.detections))
	for _, d := range c.detections {
		bb, err := d.BoundingBox.MarshalJSON()
		if err != nil {
			return nil, err
		}
		items = append(items, jsonDetection{
			ID:              d.ID,
			Type:            d.Type,
			BoundingBox:     bb,
			Confidence:      d.Confidence,
			PageNumber:      d.PageNumber,
			TextContent:     d.TextContent,
			DetectionMethod: d.DetectionMethod,
			Metadata:        d.Metadata,
			Timestamp:       d.Timestamp.Format(RFC3339Milli),
		})
	}
	return json.Marshal(items)
}

// RFC3339Milli is the timestamp layout used for JSON/CSV export.
const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// FromJSON parses a JSON array produced by ToJSON back into a Collection.
func FromJSON(data []byte) (*Collection, error) {
	var items []jsonDetection
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := NewCollection()
	for _, it := range items {
		var box struct {
			X1, Y1, X2, Y2 int
		}
		if err := json.Unmarshal(it.BoundingBox, &box); err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(it.Timestamp)
		if err != nil {
			return nil, err
		}
		bb, err := newValidatedBox(box.X1, box.Y1, box.X2, box.Y2)
		if err != nil {
			return nil, err
		}
		d := Detection{
			ID:              it.ID,
			Type:            it.Type,
			BoundingBox:     bb,
			Confidence:      it.Confidence,
			PageNumber:      it.PageNumber,
			TextContent:     it.TextContent,
			DetectionMethod: it.DetectionMethod,
			Metadata:        it.Metadata,
			Timestamp:       ts,
		}
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		out.Add(d)
	}
	return out, nil
}

// ToCSV exports the collection as CSV with a fixed column set.
func (c *Collection) ToCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"ID", "Type", "X1", "Y1", "X2", "Y2", "Confidence", "Page", "Method", "TextContent", "Timestamp"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, d := range c.detections {
		row := []string{
			d.ID,
			string(d.Type),
			itoa(d.BoundingBox.X1), itoa(d.BoundingBox.Y1), itoa(d.BoundingBox.X2), itoa(d.BoundingBox.Y2),
			ftoa(d.Confidence),
			itoa(d.PageNumber),
			string(d.DetectionMethod),
			d.TextContent,
			d.Timestamp.Format(RFC3339Milli),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
