// Package hybrid composes the cv and nlp sub-engines: dispatch, per-engine
// tagging, cross-validation, merging, filtering, per-type capping, and
// ranking. The two sub-engines run in parallel and fail soft — an error in
// one never aborts the other.
package hybrid

import (
	"context"
	"image"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/happy2234/gopnik/internal/detect/cv"
	"github.com/happy2234/gopnik/internal/detect/nlp"
	"github.com/happy2234/gopnik/internal/pii"
)

// Input is the union type the hybrid engine dispatches on: a page raster,
// a text buffer, or both together.
type Input struct {
	Image      image.Image
	Text       string
	Lines      []string
	PageNumber int
}

// compatiblePairs lists cross-validation-eligible (cv type, nlp type)
// pairs: a face or signature region overlapping a detected name is
// corroborating evidence for both.
var compatiblePairs = map[pii.Type]map[pii.Type]bool{
	pii.TypeFace:      {pii.TypeName: true},
	pii.TypeSignature: {pii.TypeName: true},
}

// Config tunes the cross-validation/merge/filter/ranking stages.
type Config struct {
	CV  cv.Config
	NLP nlp.Config

	EnableCV  bool
	EnableNLP bool

	CrossIoU               float64
	ConfidenceBoost        float64
	MergeIoU               float64
	MinConfidence          float64
	ProfileThreshold       float64
	MaxDetectionsPerType   int
}

// DefaultConfig returns the hybrid pipeline defaults.
func DefaultConfig() Config {
	return Config{
		CV:                   cv.DefaultConfig(),
		NLP:                  nlp.DefaultConfig(),
		EnableCV:             true,
		EnableNLP:            true,
		CrossIoU:             0.3,
		ConfidenceBoost:      0.1,
		MergeIoU:             0.5,
		MinConfidence:        0.5,
		MaxDetectionsPerType: 10,
	}
}

// Engine is the hybrid detector composing both sub-engines.
type Engine struct {
	cfg Config
	cv  *cv.Detector
	nlp *nlp.Detector
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, cv: cv.New(cfg.CV), nlp: nlp.New(cfg.NLP)}
}

// Configure replaces the active configuration and pushes the nested
// sub-engine configs down to both detectors.
func (e *Engine) Configure(cfg Config) {
	e.cfg = cfg
	e.cv.Configure(cfg.CV)
	e.nlp.Configure(cfg.NLP)
}

// SupportedTypes unions the types of every enabled sub-engine.
func (e *Engine) SupportedTypes() []pii.Type {
	seen := map[pii.Type]bool{}
	var out []pii.Type
	add := func(types []pii.Type) {
		for _, t := range types {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	if e.cfg.EnableCV {
		add(e.cv.SupportedTypes())
	}
	if e.cfg.EnableNLP {
		add(e.nlp.SupportedTypes())
	}
	return out
}

// ModelInfo reports both sub-engines' backends.
func (e *Engine) ModelInfo() map[string]any {
	return map[string]any{
		"engine": "hybrid",
		"cv":     e.cv.ModelInfo(),
		"nlp":    e.nlp.ModelInfo(),
	}
}

// Detect runs the full pipeline: dispatch, cross-validation, merging,
// confidence filtering, per-type capping, and ranking.
func (e *Engine) Detect(ctx context.Context, in Input) (*pii.Collection, []error) {
	var cvDetections, nlpDetections []pii.Detection
	var cvErrs, nlpErrs []error

	runCV := e.cfg.EnableCV && in.Image != nil
	runNLP := e.cfg.EnableNLP && (in.Text != "" || len(in.Lines) > 0)

	g, _ := errgroup.WithContext(ctx)
	if runCV {
		g.Go(func() error {
			col, errs := e.cv.Detect(cv.Input{Image: in.Image, PageNumber: in.PageNumber})
			for _, d := range col.All() {
				cvDetections = append(cvDetections, d.WithMetadata("engine", "cv"))
			}
			cvErrs = errs
			return nil
		})
	}
	if runNLP {
		g.Go(func() error {
			col, errs := e.nlp.Detect(nlp.Input{Text: in.Text, Lines: in.Lines, PageNumber: in.PageNumber})
			for _, d := range col.All() {
				nlpDetections = append(nlpDetections, d.WithMetadata("engine", "nlp"))
			}
			nlpErrs = errs
			return nil
		})
	}
	_ = g.Wait() // both sub-engines fail soft; errors are collected, never aborted on

	// Each goroutine above only ever writes its own slice, so this
	// concatenation after g.Wait() (the happens-before barrier) is race-free.
	errs := append(append([]error{}, cvErrs...), nlpErrs...)

	cvDetections, nlpDetections = crossValidate(cvDetections, nlpDetections, e.cfg.CrossIoU, e.cfg.ConfidenceBoost)

	all := append(append([]pii.Detection{}, cvDetections...), nlpDetections...)
	merged := mergeByTypeAndIoU(all, e.cfg.MergeIoU)

	threshold := e.cfg.MinConfidence
	if e.cfg.ProfileThreshold > threshold {
		threshold = e.cfg.ProfileThreshold
	}
	filtered := filterByConfidence(merged, threshold)

	capped := capPerType(filtered, e.cfg.MaxDetectionsPerType)
	ranked := rank(capped)

	return pii.NewCollection(ranked...), errs
}

func crossValidate(cvDets, nlpDets []pii.Detection, crossIoU, boost float64) ([]pii.Detection, []pii.Detection) {
	for i := range cvDets {
		for j := range nlpDets {
			if cvDets[i].PageNumber != nlpDets[j].PageNumber {
				continue
			}
			if !typesCompatible(cvDets[i].Type, nlpDets[j].Type) {
				continue
			}
			iou := cvDets[i].BoundingBox.IoU(nlpDets[j].BoundingBox)
			textCorrelated := cvDets[i].TextContent != "" && nlpDets[j].TextContent != "" &&
				cvDets[i].TextContent == nlpDets[j].TextContent
			if iou < crossIoU && !textCorrelated {
				continue
			}
			cvDets[i] = boostConfidence(cvDets[i], boost).WithMetadata("cross_validated", true)
			nlpDets[j] = boostConfidence(nlpDets[j], boost).WithMetadata("cross_validated", true)
		}
	}
	return cvDets, nlpDets
}

func typesCompatible(a, b pii.Type) bool {
	return compatiblePairs[a][b] || compatiblePairs[b][a]
}

func boostConfidence(d pii.Detection, boost float64) pii.Detection {
	newConf := d.Confidence + boost
	if newConf > 1 {
		newConf = 1
	}
	rebuilt, err := pii.New(d.Type, d.BoundingBox, newConf, d.PageNumber, d.DetectionMethod)
	if err != nil {
		return d
	}
	rebuilt.ID = d.ID
	rebuilt.TextContent = d.TextContent
	rebuilt.Timestamp = d.Timestamp
	for k, v := range d.Metadata {
		rebuilt = rebuilt.WithMetadata(k, v)
	}
	return rebuilt
}

// mergeByTypeAndIoU clusters detections by (type, page) with IoU >=
// mergeIoU, replacing each cluster with one merged detection.
func mergeByTypeAndIoU(detections []pii.Detection, mergeIoU float64) []pii.Detection {
	used := make([]bool, len(detections))
	var out []pii.Detection

	for i := range detections {
		if used[i] {
			continue
		}
		cur := detections[i]
		sourceIDs := []string{cur.ID}
		for j := i + 1; j < len(detections); j++ {
			if used[j] {
				continue
			}
			if detections[j].Type != cur.Type || detections[j].PageNumber != cur.PageNumber {
				continue
			}
			if cur.BoundingBox.IoU(detections[j].BoundingBox) < mergeIoU {
				continue
			}
			cur = pii.Merge(cur, detections[j])
			sourceIDs = append(sourceIDs, detections[j].ID)
			used[j] = true
		}
		if len(sourceIDs) > 1 {
			cur = cur.WithMetadata("hybrid_merged", true).WithMetadata("source_detection_ids", sourceIDs)
		}
		out = append(out, cur)
	}
	return out
}

func filterByConfidence(detections []pii.Detection, threshold float64) []pii.Detection {
	var out []pii.Detection
	for _, d := range detections {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

func capPerType(detections []pii.Detection, maxPerType int) []pii.Detection {
	if maxPerType <= 0 {
		maxPerType = 10
	}
	byType := map[pii.Type][]pii.Detection{}
	for _, d := range detections {
		byType[d.Type] = append(byType[d.Type], d)
	}
	var out []pii.Detection
	for _, group := range byType {
		sort.Slice(group, func(i, j int) bool { return group[i].Confidence > group[j].Confidence })
		if len(group) > maxPerType {
			group = group[:maxPerType]
		}
		out = append(out, group...)
	}
	return out
}

// rank sorts detections descending by ranking score. The score itself is
// not persisted on the detection; callers needing it for display can
// recompute via RankingScore.
func rank(detections []pii.Detection) []pii.Detection {
	sort.SliceStable(detections, func(i, j int) bool {
		return RankingScore(detections[i]) > RankingScore(detections[j])
	})
	return detections
}

// RankingScore computes confidence + sensitive_bonus + cross_val_bonus +
// merged_bonus.
func RankingScore(d pii.Detection) float64 {
	score := d.Confidence
	if d.Type.IsSensitive() {
		score += 0.1
	}
	if cv, ok := d.Metadata["cross_validated"].(bool); ok && cv {
		score += 0.05
	}
	if hm, ok := d.Metadata["hybrid_merged"].(bool); ok && hm {
		score += 0.05
	}
	return score
}
