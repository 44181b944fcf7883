// Package cv implements the visual (face/signature/barcode/qr_code)
// detection sub-engine. Rasters are resized before expensive per-pixel
// work and detection coordinates are mapped back to the original geometry;
// color heuristics stand in for a trained model backend behind the same
// contract one would fill.
package cv

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/happy2234/gopnik/internal/boxes"
	"github.com/happy2234/gopnik/internal/pii"
)

// Input is a single page raster handed to the detector.
type Input struct {
	Image      image.Image
	PageNumber int
}

// Config controls which visual types run and their thresholds.
type Config struct {
	EnableFace      bool
	EnableSignature bool
	EnableBarcode   bool
	EnableQRCode    bool

	// ResizeMaxDimension clamps the longest side before detection;
	// coordinates are mapped back to the original raster afterward.
	ResizeMaxDimension int

	// MinArea discards signature regions smaller than this, in original-image
	// pixels squared.
	MinArea int
}

// DefaultConfig returns the CV detector defaults: every family enabled.
func DefaultConfig() Config {
	return Config{
		EnableFace:         true,
		EnableSignature:    true,
		EnableBarcode:      true,
		EnableQRCode:       true,
		ResizeMaxDimension: 1024,
		MinArea:            400,
	}
}

// Detector implements the visual sub-engine contract: Detect,
// SupportedTypes, Configure, ModelInfo.
type Detector struct {
	cfg Config
}

// New returns a Detector with cfg; a zero-valued ResizeMaxDimension falls
// back to DefaultConfig's 1024.
func New(cfg Config) *Detector {
	if cfg.ResizeMaxDimension <= 0 {
		cfg.ResizeMaxDimension = 1024
	}
	return &Detector{cfg: cfg}
}

// SupportedTypes lists the PII types this engine can emit.
func (d *Detector) SupportedTypes() []pii.Type {
	var out []pii.Type
	if d.cfg.EnableFace {
		out = append(out, pii.TypeFace)
	}
	if d.cfg.EnableSignature {
		out = append(out, pii.TypeSignature)
	}
	if d.cfg.EnableBarcode {
		out = append(out, pii.TypeBarcode)
	}
	if d.cfg.EnableQRCode {
		out = append(out, pii.TypeQRCode)
	}
	return out
}

// Configure replaces the active configuration.
func (d *Detector) Configure(cfg Config) { d.cfg = cfg }

// ModelInfo describes this engine's backend for audit/debugging purposes.
func (d *Detector) ModelInfo() map[string]any {
	return map[string]any{
		"engine":               "cv",
		"backend":              "imaging-heuristic",
		"resize_max_dimension": d.cfg.ResizeMaxDimension,
	}
}

// Detect runs every enabled visual detector against in, scaling coordinates
// back to the original raster's geometry. A failure in one visual family
// does not abort the others.
func (d *Detector) Detect(in Input) (*pii.Collection, []error) {
	collection := pii.NewCollection()
	var errs []error

	original := in.Image
	bounds := original.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}

	scale := 1.0
	work := original
	if longest > d.cfg.ResizeMaxDimension {
		scale = float64(d.cfg.ResizeMaxDimension) / float64(longest)
		work = imaging.Resize(original, scaleDim(bounds.Dx(), scale), scaleDim(bounds.Dy(), scale), imaging.Lanczos)
	}

	if d.cfg.EnableFace {
		if dets, err := d.detectFaces(work, scale, in.PageNumber); err != nil {
			errs = append(errs, err)
		} else {
			for _, det := range dets {
				collection.Add(det)
			}
		}
	}
	if d.cfg.EnableSignature {
		if dets, err := d.detectSignatures(work, scale, in.PageNumber); err != nil {
			errs = append(errs, err)
		} else {
			for _, det := range dets {
				collection.Add(det)
			}
		}
	}
	if d.cfg.EnableBarcode || d.cfg.EnableQRCode {
		if dets, err := d.detectCodes(work, scale, in.PageNumber); err != nil {
			errs = append(errs, err)
		} else {
			for _, det := range dets {
				collection.Add(det)
			}
		}
	}

	return collection, errs
}

func scaleDim(v int, scale float64) int {
	out := int(float64(v) * scale)
	if out < 1 {
		return 1
	}
	return out
}

// mapBack rescales a detection box from the resized working image back to
// original-image coordinates.
func mapBack(box boxes.BoundingBox, scale float64) boxes.BoundingBox {
	if scale == 1.0 || scale == 0 {
		return box
	}
	inv := 1.0 / scale
	b, err := boxes.New(
		int(float64(box.X1)*inv),
		int(float64(box.Y1)*inv),
		int(float64(box.X2)*inv),
		int(float64(box.Y2)*inv),
	)
	if err != nil {
		return box
	}
	return b
}
