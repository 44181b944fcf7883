package cv

import (
	"image"
	"image/color"

	"github.com/happy2234/gopnik/internal/boxes"
	"github.com/happy2234/gopnik/internal/pii"
)

// gridStep is the sampling stride used to scan a working image for
// candidate regions; kept coarse since the working image is already capped
// at ResizeMaxDimension.
const gridStep = 16

// detectFaces scans for blocks whose average color falls within a broad
// skin-tone band, then merges adjacent matching cells into regions. This is
// a deliberately simple color-heuristic stand-in for a trained face
// detector; it is the only visual-recognition approach available without a
// model-serving dependency in the retrieval pack.
func (d *Detector) detectFaces(img image.Image, scale float64, page int) ([]pii.Detection, error) {
	cells := scanGrid(img, isSkinTone)
	regions := mergeCells(cells, gridStep)

	var out []pii.Detection
	for _, r := range regions {
		if r.Area() < 900 {
			continue
		}
		mapped := mapBack(r, scale)
		det, err := pii.New(pii.TypeFace, mapped, 0.6, page, pii.MethodCV)
		if err != nil {
			continue
		}
		det = det.WithMetadata("model_type", "skin-tone-heuristic")
		out = append(out, det)
	}
	return out, nil
}

// detectSignatures looks for dense, high-variance ink regions near the
// bottom third of the page, a common signature-block location, then
// discards anything below MinArea.
func (d *Detector) detectSignatures(img image.Image, scale float64, page int) ([]pii.Detection, error) {
	bounds := img.Bounds()
	lowerThird := bounds.Min.Y + (bounds.Dy()*2)/3

	cells := scanGridRegion(img, image.Rect(bounds.Min.X, lowerThird, bounds.Max.X, bounds.Max.Y), isInkDense)
	regions := mergeCells(cells, gridStep)

	var out []pii.Detection
	for _, r := range regions {
		mapped := mapBack(r, scale)
		if mapped.Area() < d.cfg.MinArea {
			continue
		}
		det, err := pii.New(pii.TypeSignature, mapped, 0.55, page, pii.MethodCV)
		if err != nil {
			continue
		}
		det = det.WithMetadata("model_type", "ink-density-heuristic")
		out = append(out, det)
	}
	return out, nil
}

// detectCodes looks for small, high-contrast square regions characteristic
// of barcodes/QR codes. Since no decoder dependency is available in the
// pack, the payload is left empty and extracted_text is not set; a real
// deployment would wire a dedicated decoder behind this same contract.
func (d *Detector) detectCodes(img image.Image, scale float64, page int) ([]pii.Detection, error) {
	cells := scanGrid(img, isHighContrastSquare)
	regions := mergeCells(cells, gridStep)

	var out []pii.Detection
	for _, r := range regions {
		mapped := mapBack(r, scale)
		if mapped.Area() < 256 {
			continue
		}
		aspect := float64(mapped.Width()) / float64(mapped.Height())
		t := pii.TypeBarcode
		if aspect > 0.8 && aspect < 1.25 {
			t = pii.TypeQRCode
		}
		if t == pii.TypeBarcode && !d.cfg.EnableBarcode {
			continue
		}
		if t == pii.TypeQRCode && !d.cfg.EnableQRCode {
			continue
		}
		det, err := pii.New(t, mapped, 0.5, page, pii.MethodCV)
		if err != nil {
			continue
		}
		det = det.WithMetadata("model_type", "contrast-square-heuristic")
		out = append(out, det)
	}
	return out, nil
}

func scanGrid(img image.Image, pred func(color.Color) bool) map[[2]int]bool {
	return scanGridRegion(img, img.Bounds(), pred)
}

func scanGridRegion(img image.Image, region image.Rectangle, pred func(color.Color) bool) map[[2]int]bool {
	hits := map[[2]int]bool{}
	for y := region.Min.Y; y < region.Max.Y; y += gridStep {
		for x := region.Min.X; x < region.Max.X; x += gridStep {
			if pred(img.At(x, y)) {
				hits[[2]int{x / gridStep, y / gridStep}] = true
			}
		}
	}
	return hits
}

// mergeCells clusters adjacent hit cells (4-connectivity) into bounding
// boxes via flood fill.
func mergeCells(hits map[[2]int]bool, step int) []boxes.BoundingBox {
	visited := map[[2]int]bool{}
	var regions []boxes.BoundingBox

	for cell := range hits {
		if visited[cell] {
			continue
		}
		stack := [][2]int{cell}
		visited[cell] = true
		minX, minY, maxX, maxY := cell[0], cell[1], cell[0], cell[1]

		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if c[0] < minX {
				minX = c[0]
			}
			if c[1] < minY {
				minY = c[1]
			}
			if c[0] > maxX {
				maxX = c[0]
			}
			if c[1] > maxY {
				maxY = c[1]
			}
			for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				n := [2]int{c[0] + d[0], c[1] + d[1]}
				if hits[n] && !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		box, err := boxes.New(minX*step, minY*step, (maxX+1)*step, (maxY+1)*step)
		if err == nil {
			regions = append(regions, box)
		}
	}
	return regions
}

func isSkinTone(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	r8, g8, b8 := r>>8, g>>8, b>>8
	return r8 > 95 && g8 > 40 && b8 > 20 &&
		r8 > g8 && r8 > b8 &&
		int(r8)-int(g8) > 15 &&
		maxU8(r8, g8, b8)-minU8(r8, g8, b8) > 15
}

func isInkDense(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	lum := (299*int(r>>8) + 587*int(g>>8) + 114*int(b>>8)) / 1000
	return lum < 100
}

func isHighContrastSquare(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	lum := (299*int(r>>8) + 587*int(g>>8) + 114*int(b>>8)) / 1000
	return lum < 60
}

func maxU8(vals ...uint32) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return int(m)
}

func minU8(vals ...uint32) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return int(m)
}
