package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ValidationError signals a malformed or circularly-inheriting profile.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return "profile: validation: " + e.Msg }

// ConflictError signals an unresolvable merge under the strict strategy.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return "profile: conflict: " + e.Msg }

// ConflictStrategy controls how Manager.Merge resolves differing rules.
type ConflictStrategy string

const (
	StrategyStrict       ConflictStrategy = "strict"
	StrategyPermissive    ConflictStrategy = "permissive"
	StrategyConservative  ConflictStrategy = "conservative"
)

// Manager discovers, loads, validates, and resolves redaction profiles
// from a set of search directories, scanned in order — first match wins.
type Manager struct {
	dirs []string

	mu    sync.RWMutex
	cache map[string]Profile
}

// NewManager builds a Manager that searches dirs in order.
func NewManager(dirs ...string) *Manager {
	return &Manager{dirs: dirs, cache: map[string]Profile{}}
}

var supportedExtensions = []string{".yaml", ".yml", ".json"}

// List returns the names of every profile discoverable across the search
// directories (deduplicated, sorted by name).
func (m *Manager) List() ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, dir := range m.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("profile: list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if !containsExt(ext) {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ext)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func containsExt(ext string) bool {
	for _, e := range supportedExtensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// find locates the file backing a profile name, scanning directories in
// order; first match wins.
func (m *Manager) find(name string) (string, error) {
	for _, dir := range m.dirs {
		for _, ext := range supportedExtensions {
			candidate := filepath.Join(dir, name+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("profile: %q not found in search path", name)
}

func (m *Manager) loadRaw(name string) (Profile, error) {
	path, err := m.find(name)
	if err != nil {
		return Profile{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return Profile{}, err
		}
		return FromJSONBytes(data)
	}
	return FromYAML(path)
}

// Load loads a profile by name. When resolveInheritance is true, parent
// profiles are located, recursively resolved, and merged (later parents
// override earlier ones), then the child overlays the merged parents;
// after resolution InheritsFrom is cleared on the returned profile.
func (m *Manager) Load(name string, resolveInheritance bool) (Profile, error) {
	if !resolveInheritance {
		return m.loadRaw(name)
	}

	m.mu.RLock()
	if cached, ok := m.cache[name]; ok {
		m.mu.RUnlock()
		return cached, nil
	}
	m.mu.RUnlock()

	resolved, err := m.resolve(name, map[string]bool{})
	if err != nil {
		return Profile{}, err
	}

	m.mu.Lock()
	m.cache[name] = resolved
	m.mu.Unlock()
	return resolved, nil
}

func (m *Manager) resolve(name string, seen map[string]bool) (Profile, error) {
	if seen[name] {
		return Profile{}, &ValidationError{Msg: "circular inheritance at " + name}
	}
	seen[name] = true

	p, err := m.loadRaw(name)
	if err != nil {
		return Profile{}, err
	}
	if errs := Validate(p); len(errs) > 0 {
		return Profile{}, &ValidationError{Msg: strings.Join(errs, "; ")}
	}
	if len(p.InheritsFrom) == 0 {
		return p, nil
	}

	var merged Profile
	haveMerged := false
	for _, parentName := range p.InheritsFrom {
		parentSeen := make(map[string]bool, len(seen))
		for k, v := range seen {
			parentSeen[k] = v
		}
		parent, err := m.resolve(parentName, parentSeen)
		if err != nil {
			return Profile{}, err
		}
		if !haveMerged {
			merged = parent
			haveMerged = true
		} else {
			merged = overlay(merged, parent)
		}
	}
	result := overlay(merged, p)
	result.InheritsFrom = nil
	return result, nil
}

// overlay applies child on top of base: child keys win on conflict.
func overlay(base, child Profile) Profile {
	out := base
	out.Name = child.Name
	out.Description = child.Description
	out.VisualRules = mergeBoolMaps(base.VisualRules, child.VisualRules)
	out.TextRules = mergeBoolMaps(base.TextRules, child.TextRules)
	if child.RedactionStyle != "" {
		out.RedactionStyle = child.RedactionStyle
	}
	out.MultilingualSupport = unionStrings(base.MultilingualSupport, child.MultilingualSupport)
	if child.ConfidenceThreshold != nil {
		out.ConfidenceThreshold = child.ConfidenceThreshold
	}
	out.CustomRules = mergeCustomRules(base.CustomRules, child.CustomRules)
	out.Metadata = mergeAnyMaps(base.Metadata, child.Metadata)
	out.InheritsFrom = child.InheritsFrom
	out.Version = child.Version
	return out
}

func mergeBoolMaps(base, child map[string]bool) map[string]bool {
	out := make(map[string]bool, len(base)+len(child))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

func mergeCustomRules(base, child map[string]CustomRule) map[string]CustomRule {
	out := make(map[string]CustomRule, len(base)+len(child))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

func mergeAnyMaps(base, child map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(child))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Save writes profile to dir in the given format ("yaml" or "json").
func (m *Manager) Save(p Profile, dir, format string) error {
	if errs := Validate(p); len(errs) > 0 {
		return &ValidationError{Msg: strings.Join(errs, "; ")}
	}
	switch format {
	case "json":
		return p.SaveJSON(filepath.Join(dir, p.Name+".json"))
	default:
		return p.SaveYAML(filepath.Join(dir, p.Name+".yaml"))
	}
}

// ClearCache invalidates all cached resolved profiles.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = map[string]Profile{}
	m.mu.Unlock()
}

// ConflictReport describes differences found between two profiles.
type ConflictReport struct {
	VisualRuleDiffs map[string][2]bool
	TextRuleDiffs   map[string][2]bool
	StyleDiffers    bool
	ThresholdDelta  float64
}

// HasConflicts reports whether the report found any difference.
func (r ConflictReport) HasConflicts() bool {
	return len(r.VisualRuleDiffs) > 0 || len(r.TextRuleDiffs) > 0 || r.StyleDiffers || r.ThresholdDelta > 0.1
}

// DetectConflicts compares two independent profiles, reporting rule
// differences, style divergence, and the threshold delta.
func DetectConflicts(a, b Profile) ConflictReport {
	report := ConflictReport{
		VisualRuleDiffs: diffBoolMaps(a.VisualRules, b.VisualRules),
		TextRuleDiffs:   diffBoolMaps(a.TextRules, b.TextRules),
		StyleDiffers:    a.RedactionStyle != b.RedactionStyle,
		ThresholdDelta:  absFloat(a.Threshold() - b.Threshold()),
	}
	return report
}

func diffBoolMaps(a, b map[string]bool) map[string][2]bool {
	out := map[string][2]bool{}
	keys := map[string]bool{}
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	for k := range keys {
		av, bv := a[k], b[k]
		if av != bv {
			out[k] = [2]bool{av, bv}
		}
	}
	return out
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// CreateComposite merges profiles left-to-right under strategy and names
// the result name.
func CreateComposite(profiles []Profile, name string, strategy ConflictStrategy) (Profile, error) {
	if len(profiles) == 0 {
		return Profile{}, &ValidationError{Msg: "no profiles supplied"}
	}
	result := profiles[0]
	for _, next := range profiles[1:] {
		merged, err := mergeWithStrategy(result, next, strategy)
		if err != nil {
			return Profile{}, err
		}
		result = merged
	}
	result.Name = name
	result.InheritsFrom = nil
	return result, nil
}

func mergeWithStrategy(a, b Profile, strategy ConflictStrategy) (Profile, error) {
	conflicts := DetectConflicts(a, b)
	if strategy == StrategyStrict && conflicts.HasConflicts() {
		return Profile{}, &ConflictError{Msg: "profiles conflict under strict strategy"}
	}

	out := a
	out.VisualRules = combineRules(a.VisualRules, b.VisualRules, strategy)
	out.TextRules = combineRules(a.TextRules, b.TextRules, strategy)
	out.MultilingualSupport = unionStrings(a.MultilingualSupport, b.MultilingualSupport)
	out.CustomRules = mergeCustomRules(a.CustomRules, b.CustomRules)
	out.Metadata = mergeAnyMaps(a.Metadata, b.Metadata)

	switch strategy {
	case StrategyPermissive:
		out.ConfidenceThreshold = floatPtr(minFloat(a.Threshold(), b.Threshold()))
	case StrategyConservative:
		out.ConfidenceThreshold = floatPtr(maxFloatP(a.Threshold(), b.Threshold()))
	default:
		out.ConfidenceThreshold = floatPtr(b.Threshold())
	}
	if b.RedactionStyle != "" {
		out.RedactionStyle = b.RedactionStyle
	}
	return out, nil
}

func combineRules(a, b map[string]bool, strategy ConflictStrategy) map[string]bool {
	out := map[string]bool{}
	keys := map[string]bool{}
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	for k := range keys {
		av, bv := a[k], b[k]
		switch strategy {
		case StrategyPermissive:
			out[k] = av || bv
		case StrategyConservative:
			out[k] = av && bv
		default:
			if _, ok := b[k]; ok {
				out[k] = bv
			} else {
				out[k] = av
			}
		}
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloatP(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
