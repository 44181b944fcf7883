// Package document implements the Document/Page data model and the
// analyzer that decodes PDF and raster inputs into it. PDF pages carry
// their embedded text layer when present, with OCR as the text source of
// last resort; raster inputs decode as a single page.
package document

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"

	"github.com/disintegration/imaging"

	"github.com/happy2234/gopnik/internal/gcrypto"
	"github.com/happy2234/gopnik/internal/perr"
)

// Format is the closed set of document formats the analyzer accepts.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatPNG     Format = "png"
	FormatJPG     Format = "jpg"
	FormatJPEG    Format = "jpeg"
	FormatTIFF    Format = "tiff"
	FormatBMP     Format = "bmp"
	FormatUnknown Format = "unknown"
)

// Rotation is a page rotation in degrees, one of {0, 90, 180, 270}.
type Rotation int

// Page describes one page's layout and (optionally) extracted text.
type Page struct {
	PageNumber  int
	Width       int
	Height      int
	DPI         int
	Rotation    Rotation
	TextContent string
	Metadata    map[string]any
}

// Document is a decoded input with its pages and metadata.
type Document struct {
	ID       string
	Path     string
	Format   Format
	Pages    []Page
	Metadata map[string]any
	FileHash string
}

// PageCount returns the number of pages.
func (d Document) PageCount() int { return len(d.Pages) }

// RecomputeHash re-reads the file at d.Path and returns its current
// SHA-256, for integrity validation against the hash captured at analysis
// time.
func (d Document) RecomputeHash() (string, error) {
	return gcrypto.SHA256File(d.Path)
}

// DefaultMaxFileSize is the upper bound on accepted input bytes (100 MiB),
// overridable via Analyzer.MaxFileSize.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

const defaultPDFDPI = 150
const defaultImageDPI = 72

var supportedExtensions = map[string]Format{
	".pdf":  FormatPDF,
	".png":  FormatPNG,
	".jpg":  FormatJPG,
	".jpeg": FormatJPEG,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
}

// Analyzer decodes documents and extracts per-page layout/text.
type Analyzer struct {
	MaxFileSize int64
	EnableOCR   bool
	OCRLanguages string
}

// NewAnalyzer returns an Analyzer with default limits and OCR enabled.
func NewAnalyzer() *Analyzer {
	return &Analyzer{MaxFileSize: DefaultMaxFileSize, EnableOCR: true, OCRLanguages: "eng"}
}

// IsSupported reports whether path's extension is a recognized format.
func (a *Analyzer) IsSupported(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func formatOf(path string) Format {
	if f, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return FormatUnknown
}

// validateInput rejects nonexistent, zero-size, oversized, or unsupported
// inputs with a typed DocumentProcessingError.
func (a *Analyzer) validateInput(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, fmt.Errorf("input not found: %w", err))
	}
	if info.Size() == 0 {
		return nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, fmt.Errorf("input is zero-size"))
	}
	maxSize := a.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		return nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, fmt.Errorf("input exceeds max file size %d", maxSize))
	}
	if !a.IsSupported(path) {
		return nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, fmt.Errorf("unsupported format %q", filepath.Ext(path)))
	}
	return info, nil
}

// Analyze decodes a document and returns its full Document model, including
// per-page dimensions/DPI/rotation/text and document-level metadata.
func (a *Analyzer) Analyze(path string) (Document, []string, error) {
	if _, err := a.validateInput(path); err != nil {
		return Document{}, nil, err
	}

	format := formatOf(path)
	pages, warnings, err := a.decodePages(path, format)
	if err != nil {
		return Document{}, nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, err)
	}
	if len(pages) == 0 {
		return Document{}, nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, fmt.Errorf("zero pages decoded"))
	}

	hash, err := gcrypto.SHA256File(path)
	if err != nil {
		return Document{}, nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, err)
	}

	doc := Document{
		ID:       uuid.NewString(),
		Path:     path,
		Format:   format,
		Pages:    pages,
		Metadata: documentMetadata(pages),
		FileHash: hash,
	}
	return doc, warnings, nil
}

func (a *Analyzer) decodePages(path string, format Format) ([]Page, []string, error) {
	switch format {
	case FormatPDF:
		return a.analyzePDF(path)
	default:
		pages, err := a.analyzeImage(path)
		return pages, nil, err
	}
}

// ExtractPages decodes only the per-page layout/text data for path,
// without computing the file hash or document-level metadata.
func (a *Analyzer) ExtractPages(path string) ([]Page, []string, error) {
	if _, err := a.validateInput(path); err != nil {
		return nil, nil, err
	}
	pages, warnings, err := a.decodePages(path, formatOf(path))
	if err != nil {
		return nil, nil, perr.NewDocumentProcessingError(perr.StageAnalyze, path, err)
	}
	return pages, warnings, nil
}

// Metadata returns the document-level metadata (consistent_page_sizes,
// orientation, page count) for path without building the full Document.
func (a *Analyzer) Metadata(path string) (map[string]any, error) {
	pages, _, err := a.ExtractPages(path)
	if err != nil {
		return nil, err
	}
	meta := documentMetadata(pages)
	meta["page_count"] = len(pages)
	meta["format"] = string(formatOf(path))
	return meta, nil
}

// documentMetadata computes consistent_page_sizes (all dimensions within
// 1% tolerance) and orientation.
func documentMetadata(pages []Page) map[string]any {
	meta := map[string]any{}
	if len(pages) == 0 {
		return meta
	}

	consistent := true
	base := pages[0]
	for _, p := range pages[1:] {
		if withinTolerance(base.Width, p.Width) && withinTolerance(base.Height, p.Height) {
			continue
		}
		consistent = false
		break
	}
	meta["consistent_page_sizes"] = consistent

	orientation := orientationOf(pages[0])
	for _, p := range pages[1:] {
		if orientationOf(p) != orientation {
			orientation = "mixed"
			break
		}
	}
	meta["orientation"] = orientation
	return meta
}

func withinTolerance(a, b int) bool {
	if a == 0 {
		return b == 0
	}
	delta := math.Abs(float64(a-b)) / float64(a)
	return delta <= 0.01
}

func orientationOf(p Page) string {
	switch {
	case p.Width > p.Height:
		return "landscape"
	case p.Height > p.Width:
		return "portrait"
	default:
		return "unknown"
	}
}

// analyzePDF iterates pages 0..n-1, recording media-box dimensions,
// rotation, default DPI, and extracted text, falling back to OCR per page
// when the embedded text layer is empty or low quality. A page that fails
// to decode is skipped and recorded as a warning rather than aborting the
// whole document, unless every page fails.
func (a *Analyzer) analyzePDF(path string) ([]Page, []string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := reader.NumPage()
	pages := make([]Page, 0, n)
	var warnings []string

	for i := 1; i <= n; i++ {
		pdfPage := reader.Page(i)
		if pdfPage.V.IsNull() {
			warnings = append(warnings, fmt.Sprintf("page %d: null content, skipped", i))
			continue
		}

		width, height := pageDimensions(pdfPage)
		text, textErr := pdfPage.GetPlainText(nil)
		if textErr != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: text extraction failed: %v", i, textErr))
			text = ""
		}

		if a.EnableOCR && a.hasLowTextQuality(text) {
			if ocrText, ocrErr := a.performOCR(path, i); ocrErr == nil && ocrText != "" {
				text = combineTexts(text, ocrText)
			} else if ocrErr != nil {
				warnings = append(warnings, fmt.Sprintf("page %d: ocr fallback failed: %v", i, ocrErr))
			}
		}

		pages = append(pages, Page{
			PageNumber:  i - 1,
			Width:       width,
			Height:      height,
			DPI:         defaultPDFDPI,
			Rotation:    0,
			TextContent: text,
			Metadata:    map[string]any{},
		})
	}

	return pages, warnings, nil
}

func pageDimensions(p pdf.Page) (int, int) {
	// ledongthuc/pdf exposes media box via the font/page value tree; when it
	// cannot be resolved, fall back to US Letter at 150 DPI.
	v := p.V.Key("MediaBox")
	if v.IsNull() || v.Len() < 4 {
		return 1275, 1650 // 8.5x11in @150dpi fallback
	}
	x1 := v.Index(0).Float64()
	y1 := v.Index(1).Float64()
	x2 := v.Index(2).Float64()
	y2 := v.Index(3).Float64()
	width := int(math.Round(x2 - x1))
	height := int(math.Round(y2 - y1))
	if width <= 0 || height <= 0 {
		return 1275, 1650
	}
	return width, height
}

// hasLowTextQuality flags short text or a high density of OCR-glitch
// placeholder glyphs.
func (a *Analyzer) hasLowTextQuality(text string) bool {
	if len(text) < 100 {
		return true
	}
	glitches := strings.Count(text, "□") + strings.Count(text, "◯") + strings.Count(text, "●")
	return float64(glitches)/float64(len(text)) > 0.1
}

func combineTexts(original, ocr string) string {
	if len(original) > len(ocr) {
		return original
	}
	return ocr
}

// performOCR runs tesseract directly against the source file, which is
// only meaningful for single-page inputs; without a PDF rasterizer there
// is no page image to hand it for later pages. Multi-page PDFs fall back
// to the page's existing (possibly empty) text rather than fabricating a
// raster that was never decoded.
func (a *Analyzer) performOCR(path string, pageNum int) (string, error) {
	if formatOf(path) != FormatUnknown && formatOf(path) == FormatPDF && pageNum > 1 {
		return "", fmt.Errorf("ocr fallback requires a page raster, none available for page %d", pageNum)
	}
	client := gosseract.NewClient()
	defer client.Close()

	lang := a.OCRLanguages
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImage(path); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return text, nil
}

// analyzeImage treats the file as a single page, honoring declared DPI
// when the decoder reports one, defaulting to 72. Pixel content is not
// altered beyond format normalization; RGBA images are flagged with
// has_transparency rather than having their alpha channel dropped in place.
func (a *Analyzer) analyzeImage(path string) ([]Page, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()

	meta := map[string]any{"has_transparency": !isOpaque(img)}
	return []Page{{
		PageNumber:  0,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		DPI:         defaultImageDPI,
		Rotation:    0,
		TextContent: "",
		Metadata:    meta,
	}}, nil
}

// isOpaque reports whether img declares itself fully opaque. Decoded image
// types (image.NRGBA, image.RGBA, ...) implement this via the standard
// library's unexported opaque interface; anything else is assumed opaque.
func isOpaque(img image.Image) bool {
	type opaquer interface{ Opaque() bool }
	if o, ok := img.(opaquer); ok {
		return o.Opaque()
	}
	return true
}
