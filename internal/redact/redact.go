// Package redact implements the style-specific redaction engine: PDF
// content-stream fills, and raster overlays,
// across the solid/pixelated/blurred/pattern styles. Output is always
// written to a sibling path prefixed redacted_; the source file is never
// modified.
package redact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/happy2234/gopnik/internal/boxes"
	"github.com/happy2234/gopnik/internal/pii"
	"github.com/happy2234/gopnik/internal/profile"
)

// Stats reports the outcome of one ApplyRedactions call.
type Stats struct {
	TotalDetections    int
	RedactedDetections int
	SkippedDetections  int
	ByType             map[pii.Type]int
	ByPage             map[int]int
	Style              profile.Style
}

// Engine applies style-specific redactions while preserving page layout.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine { return &Engine{} }

// PreserveLayout always reports true: this engine never reflows content,
// only overlays or annotates regions in place.
func (e *Engine) PreserveLayout() bool { return true }

// ApplyRedactions filters detections by the resolved profile, groups them
// by page, and applies the profile's redaction style to each page in
// order, writing the result to a sibling path. PageCount bounds which
// page numbers are valid; detections referencing pages beyond it are
// skipped with a warning rather than aborting the document.
func (e *Engine) ApplyRedactions(documentPath string, detections []pii.Detection, prof profile.Profile, pageCount int) (outputPath string, stats Stats, warnings []string, err error) {
	stats = Stats{ByType: map[pii.Type]int{}, ByPage: map[int]int{}, Style: prof.RedactionStyle}

	var accepted []pii.Detection
	for _, d := range detections {
		stats.TotalDetections++
		if !prof.IsTypeEnabled(string(d.Type)) {
			stats.SkippedDetections++
			continue
		}
		if d.Confidence < prof.Threshold() {
			stats.SkippedDetections++
			continue
		}
		if d.PageNumber >= pageCount {
			stats.SkippedDetections++
			warnings = append(warnings, fmt.Sprintf("page %d out of range (document has %d pages), detection %s skipped", d.PageNumber, pageCount, d.ID))
			continue
		}
		accepted = append(accepted, d)
	}

	byPage := groupByPage(accepted)
	var pageNums []int
	for p := range byPage {
		pageNums = append(pageNums, p)
	}
	sort.Ints(pageNums)

	ext := filepath.Ext(documentPath)
	if ext == ".pdf" {
		outputPath, warnings, err = e.applyPDF(documentPath, byPage, pageNums, prof, warnings)
	} else {
		outputPath, warnings, err = e.applyImage(documentPath, byPage, prof, warnings)
	}
	if err != nil {
		return "", stats, warnings, err
	}

	if len(pageNums) == 0 && len(accepted) > 0 {
		// every page failed before any redaction landed
		return outputPath, stats, warnings, fmt.Errorf("redact: every page failed")
	}

	for _, d := range accepted {
		stats.RedactedDetections++
		stats.ByType[d.Type]++
		stats.ByPage[d.PageNumber]++
	}
	return outputPath, stats, warnings, nil
}

func groupByPage(detections []pii.Detection) map[int][]pii.Detection {
	out := map[int][]pii.Detection{}
	for _, d := range detections {
		out[d.PageNumber] = append(out[d.PageNumber], d)
	}
	return out
}

func redactedPath(documentPath string) string {
	dir, base := filepath.Split(documentPath)
	return filepath.Join(dir, "redacted_"+base)
}

// applyPDF appends a filled rectangle for each bounding box to its page's
// content stream — pdfcpu drives the decode/rewrite scaffold. No redaction
// annotation is added, and the page's existing content operators stay in
// the stream beneath the fill.
func (e *Engine) applyPDF(documentPath string, byPage map[int][]pii.Detection, pageNums []int, prof profile.Profile, warnings []string) (string, []string, error) {
	ctx, err := api.ReadContextFile(documentPath)
	if err != nil {
		return "", warnings, fmt.Errorf("redact: read pdf: %w", err)
	}

	anyApplied := false
	for _, page := range pageNums {
		pageNr := page + 1 // pdfcpu pages are 1-indexed
		dets := byPage[page]

		ops, opErr := contentOpsForPage(dets, prof)
		if opErr != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v, skipped", page, opErr))
			continue
		}
		if err := appendPageContent(ctx, pageNr, ops); err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v, skipped", page, err))
			continue
		}
		anyApplied = true
	}
	if !anyApplied && len(pageNums) > 0 {
		return "", warnings, fmt.Errorf("redact: every page failed")
	}

	out := redactedPath(documentPath)
	if err := api.WriteContextFile(ctx, out); err != nil {
		return "", warnings, fmt.Errorf("redact: write pdf: %w", err)
	}
	return out, warnings, nil
}

// contentOpsForPage renders one fill operator per detection in PDF content
// stream syntax: "x y w h re" then a fill operator selected by style. Only
// solid_black/solid_white/pattern have a faithful vector representation;
// pixelated/blurred fall back to a solid fill in the vector path (their
// raster-only semantics apply fully in applyImage).
func contentOpsForPage(dets []pii.Detection, prof profile.Profile) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("q\n")
	for _, d := range dets {
		b := d.BoundingBox
		r, g, bch := fillRGB(prof.RedactionStyle)
		fmt.Fprintf(&buf, "%d %d %d rg\n", r, g, bch)
		fmt.Fprintf(&buf, "%d %d %d %d re f\n", b.X1, b.Y1, b.Width(), b.Height())
		if prof.RedactionStyle == profile.StylePattern {
			if err := writeHatch(&buf, b); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteString("Q\n")
	return buf.Bytes(), nil
}

func fillRGB(style profile.Style) (int, int, int) {
	switch style {
	case profile.StyleSolidWhite:
		return 1, 1, 1
	default:
		return 0, 0, 0
	}
}

func writeHatch(buf *bytes.Buffer, b boxes.BoundingBox) error {
	step := 6
	for x := b.X1; x < b.X2; x += step {
		fmt.Fprintf(buf, "%d %d m %d %d l S\n", x, b.Y1, x, b.Y2)
	}
	return nil
}

// appendPageContent appends raw content-stream bytes to the page's
// content, rewriting it through pdfcpu's context so the stream's length
// dictionary stays consistent.
func appendPageContent(ctx *model.Context, pageNr int, ops []byte) error {
	d, _, _, err := ctx.PageDict(pageNr, false)
	if err != nil {
		return fmt.Errorf("page dict: %w", err)
	}
	if d == nil {
		return fmt.Errorf("page %d has no page dictionary", pageNr)
	}
	return ctx.AppendContent(d, ops)
}

// applyImage opens the source raster, draws every detection's style
// overlay on page 0, and saves to redacted_<orig>.
func (e *Engine) applyImage(documentPath string, byPage map[int][]pii.Detection, prof profile.Profile, warnings []string) (string, []string, error) {
	img, err := imaging.Open(documentPath)
	if err != nil {
		return "", warnings, fmt.Errorf("redact: open image: %w", err)
	}

	canvas := image.NewNRGBA(img.Bounds())
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)

	dets := byPage[0]
	for _, d := range dets {
		applyOverlay(canvas, d.BoundingBox, prof.RedactionStyle)
	}

	out := redactedPath(documentPath)
	if err := imaging.Save(canvas, out); err != nil {
		return "", warnings, fmt.Errorf("redact: save image: %w", err)
	}
	return out, warnings, nil
}

// applyOverlay draws style onto region in place on canvas.
func applyOverlay(canvas *image.NRGBA, region boxes.BoundingBox, style profile.Style) {
	rect := image.Rect(region.X1, region.Y1, region.X2, region.Y2).Intersect(canvas.Bounds())
	if rect.Empty() {
		return
	}

	switch style {
	case profile.StyleSolidWhite:
		draw.Draw(canvas, rect, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	case profile.StylePixelated:
		pixelate(canvas, rect)
	case profile.StyleBlurred:
		blur(canvas, rect)
	case profile.StylePattern:
		hatch(canvas, rect)
	default: // solid_black
		draw.Draw(canvas, rect, &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	}
}

// pixelate downsamples the region to a coarse grid (gridSize picks its
// width from the area; larger regions get fewer cells) then upsamples with
// nearest-neighbor.
func pixelate(canvas *image.NRGBA, rect image.Rectangle) {
	w, h := rect.Dx(), rect.Dy()
	if w <= 0 || h <= 0 {
		return
	}
	area := w * h
	grid := gridSize(area)
	cropped := imaging.Crop(canvas, rect)
	small := imaging.Resize(cropped, grid, 0, imaging.Box)
	blocky := imaging.Resize(small, w, h, imaging.NearestNeighbor)
	draw.Draw(canvas, rect, blocky, image.Point{}, draw.Src)
}

func gridSize(area int) int {
	switch {
	case area > 200000:
		return 8
	case area > 50000:
		return 12
	case area > 5000:
		return 20
	default:
		return 32
	}
}

// blur applies a Gaussian blur with radius proportional to region size.
func blur(canvas *image.NRGBA, rect image.Rectangle) {
	w, h := rect.Dx(), rect.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	sigma := float64(longest) / 12.0
	if sigma < 2 {
		sigma = 2
	}
	cropped := imaging.Crop(canvas, rect)
	blurred := imaging.Blur(cropped, sigma)
	draw.Draw(canvas, rect, blurred, image.Point{}, draw.Src)
}

// hatch draws a cross-hatch pattern over the region.
func hatch(canvas *image.NRGBA, rect image.Rectangle) {
	step := 6
	black := color.Black
	for x := rect.Min.X; x < rect.Max.X; x += step {
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			canvas.Set(x, y, black)
		}
	}
	for y := rect.Min.Y; y < rect.Max.Y; y += step {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			canvas.Set(x, y, black)
		}
	}
}

// ReplacementFor maps a PII type to its literal text placeholder, used by
// downstream text-extraction redaction rather than pixel redaction.
func ReplacementFor(t pii.Type, prof profile.Profile) string {
	defaultText := fmt.Sprintf("[%s REDACTED]", upperType(t))
	return prof.ReplacementFor(string(t), defaultText)
}

func upperType(t pii.Type) string {
	out := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c == '_' {
			out = append(out, ' ')
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
