// Package profile implements hierarchical, inheritable redaction rule
// sets: which PII types get redacted, in which style, above which
// confidence, with multi-parent inheritance and conflict-resolution
// strategies for composing independent profiles.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Style is the redaction rendering style applied to a region.
type Style string

const (
	StyleSolidBlack Style = "solid_black"
	StyleSolidWhite Style = "solid_white"
	StylePixelated  Style = "pixelated"
	StyleBlurred    Style = "blurred"
	StylePattern    Style = "pattern"
)

// CustomRule holds per-type overrides, e.g. a replacement placeholder.
type CustomRule struct {
	ReplacementText string `yaml:"replacement_text,omitempty" json:"replacement_text,omitempty"`
}

// Profile is a versioned, possibly inherited rule set controlling which
// detections get redacted and how.
type Profile struct {
	Name                 string                `yaml:"name" json:"name"`
	Description          string                `yaml:"description" json:"description"`
	VisualRules          map[string]bool       `yaml:"visual_rules" json:"visual_rules"`
	TextRules            map[string]bool       `yaml:"text_rules" json:"text_rules"`
	RedactionStyle       Style                 `yaml:"redaction_style" json:"redaction_style"`
	MultilingualSupport  []string              `yaml:"multilingual_support" json:"multilingual_support"`
	// ConfidenceThreshold is a pointer so an explicit 0.0 in a child profile
	// can be told apart from "not set" during inheritance merge — a plain
	// float64 zero value is ambiguous between the two. Use Threshold to
	// read the effective value.
	ConfidenceThreshold  *float64              `yaml:"confidence_threshold,omitempty" json:"confidence_threshold,omitempty"`
	CustomRules          map[string]CustomRule `yaml:"custom_rules" json:"custom_rules"`
	InheritsFrom         []string              `yaml:"inherits_from" json:"inherits_from"`
	Version              string                `yaml:"version" json:"version"`
	Metadata              map[string]any        `yaml:"metadata" json:"metadata"`
}

// DefaultConfidenceThreshold is the value Threshold reports when a
// profile does not set ConfidenceThreshold explicitly.
const DefaultConfidenceThreshold = 0.7

// New returns a Profile with defaults (solid_black style, 0.7 threshold)
// and empty collections.
func New(name, description string) Profile {
	return Profile{
		Name:                name,
		Description:         description,
		VisualRules:         map[string]bool{},
		TextRules:           map[string]bool{},
		RedactionStyle:      StyleSolidBlack,
		MultilingualSupport: []string{},
		ConfidenceThreshold: floatPtr(DefaultConfidenceThreshold),
		CustomRules:         map[string]CustomRule{},
		InheritsFrom:        []string{},
		Metadata:            map[string]any{},
	}
}

func floatPtr(f float64) *float64 { return &f }

// Threshold64 returns a pointer suitable for Profile.ConfidenceThreshold,
// for callers (tests, profile builders) that need to set an explicit value.
func Threshold64(f float64) *float64 { return floatPtr(f) }

// Threshold returns the effective confidence threshold: the explicit
// value if set, else DefaultConfidenceThreshold.
func (p Profile) Threshold() float64 {
	if p.ConfidenceThreshold == nil {
		return DefaultConfidenceThreshold
	}
	return *p.ConfidenceThreshold
}

// IsTypeEnabled checks visual rules first, then text rules, else false.
func (p Profile) IsTypeEnabled(piiType string) bool {
	if v, ok := p.VisualRules[piiType]; ok {
		return v
	}
	if v, ok := p.TextRules[piiType]; ok {
		return v
	}
	return false
}

// ReplacementFor returns the custom rule's replacement text for piiType,
// or the caller-supplied fallback when no rule sets one.
func (p Profile) ReplacementFor(piiType, fallback string) string {
	if rule, ok := p.CustomRules[piiType]; ok && rule.ReplacementText != "" {
		return rule.ReplacementText
	}
	return fallback
}

// FromYAML loads a profile from a YAML file.
func FromYAML(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: read %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: parse yaml %s: %w", path, err)
	}
	return normalizeDefaults(p), nil
}

// FromJSONBytes loads a profile from JSON bytes.
func FromJSONBytes(data []byte) (Profile, error) {
	var p Profile
	if err := jsonUnmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: parse json: %w", err)
	}
	return normalizeDefaults(p), nil
}

func normalizeDefaults(p Profile) Profile {
	if p.VisualRules == nil {
		p.VisualRules = map[string]bool{}
	}
	if p.TextRules == nil {
		p.TextRules = map[string]bool{}
	}
	if p.CustomRules == nil {
		p.CustomRules = map[string]CustomRule{}
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	if p.RedactionStyle == "" {
		p.RedactionStyle = StyleSolidBlack
	}
	return p
}

// SaveYAML writes the profile to a YAML file at path.
func (p Profile) SaveYAML(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: marshal yaml: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SaveJSON writes the profile to a JSON file at path.
func (p Profile) SaveJSON(path string) error {
	data, err := jsonMarshalIndent(p)
	if err != nil {
		return fmt.Errorf("profile: marshal json: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate returns a list of validation error strings; an empty slice
// means the profile is valid.
func Validate(p Profile) []string {
	var errs []string
	if p.Name == "" {
		errs = append(errs, "name must not be empty")
	}
	if t := p.Threshold(); t < 0 || t > 1 {
		errs = append(errs, "confidence_threshold must be in [0,1]")
	}
	for k := range p.InheritsFrom {
		if p.InheritsFrom[k] == p.Name {
			errs = append(errs, "inherits_from must not contain self")
		}
	}
	switch p.RedactionStyle {
	case StyleSolidBlack, StyleSolidWhite, StylePixelated, StyleBlurred, StylePattern, "":
	default:
		errs = append(errs, fmt.Sprintf("unknown redaction_style %q", p.RedactionStyle))
	}
	return errs
}
