package pii

import (
	"strconv"
	"time"

	"github.com/happy2234/gopnik/internal/boxes"
)

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(RFC3339Milli, s)
}

func newValidatedBox(x1, y1, x2, y2 int) (boxes.BoundingBox, error) {
	return boxes.New(x1, y1, x2, y2)
}

func itoa(i int) string { return strconv.Itoa(i) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }
