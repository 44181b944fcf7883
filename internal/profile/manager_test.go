package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir string, p Profile) {
	t.Helper()
	require.NoError(t, p.SaveYAML(filepath.Join(dir, p.Name+".yaml")))
}

func TestInheritanceResolution(t *testing.T) {
	dir := t.TempDir()

	parent1 := New("parent1", "")
	parent1.VisualRules["face"] = true
	writeProfile(t, dir, parent1)

	parent2 := New("parent2", "")
	parent2.VisualRules["signature"] = true
	writeProfile(t, dir, parent2)

	child := New("child", "")
	child.VisualRules["barcode"] = true
	child.InheritsFrom = []string{"parent1", "parent2"}
	writeProfile(t, dir, child)

	mgr := NewManager(dir)
	resolved, err := mgr.Load("child", true)
	require.NoError(t, err)

	assert.True(t, resolved.VisualRules["face"])
	assert.True(t, resolved.VisualRules["signature"])
	assert.True(t, resolved.VisualRules["barcode"])
	assert.Empty(t, resolved.InheritsFrom)
}

func TestInheritanceExplicitZeroThresholdOverrides(t *testing.T) {
	dir := t.TempDir()

	parent := New("parent", "")
	parent.ConfidenceThreshold = floatPtr(0.9)
	writeProfile(t, dir, parent)

	child := New("child", "")
	child.ConfidenceThreshold = floatPtr(0.0)
	child.InheritsFrom = []string{"parent"}
	writeProfile(t, dir, child)

	mgr := NewManager(dir)
	resolved, err := mgr.Load("child", true)
	require.NoError(t, err)

	assert.Equal(t, 0.0, resolved.Threshold())
}

func TestCircularInheritanceFails(t *testing.T) {
	dir := t.TempDir()

	a := New("a", "")
	a.InheritsFrom = []string{"b"}
	writeProfile(t, dir, a)

	b := New("b", "")
	b.InheritsFrom = []string{"a"}
	writeProfile(t, dir, b)

	mgr := NewManager(dir)
	_, err := mgr.Load("a", true)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := New("test", "a test profile")
	p.VisualRules["face"] = true
	p.TextRules["email"] = true
	p.ConfidenceThreshold = floatPtr(0.85)
	p.RedactionStyle = StylePixelated
	p.MultilingualSupport = []string{"en", "pt"}

	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, p.SaveYAML(path))

	loaded, err := FromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, p.Name, loaded.Name)
	assert.Equal(t, p.VisualRules, loaded.VisualRules)
	assert.Equal(t, p.ConfidenceThreshold, loaded.ConfidenceThreshold)
	assert.Equal(t, p.RedactionStyle, loaded.RedactionStyle)
	assert.ElementsMatch(t, p.MultilingualSupport, loaded.MultilingualSupport)
}

func TestJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := New("json-test", "")
	p.TextRules["ssn"] = true

	path := filepath.Join(dir, "json-test.json")
	require.NoError(t, p.SaveJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	loaded, err := FromJSONBytes(data)
	require.NoError(t, err)
	assert.Equal(t, p.TextRules, loaded.TextRules)
}

func TestConflictStrategies(t *testing.T) {
	a := New("a", "")
	a.VisualRules["face"] = true
	a.ConfidenceThreshold = floatPtr(0.9)

	b := New("b", "")
	b.VisualRules["face"] = false
	b.ConfidenceThreshold = floatPtr(0.5)

	permissive, err := CreateComposite([]Profile{a, b}, "composite", StrategyPermissive)
	require.NoError(t, err)
	assert.True(t, permissive.VisualRules["face"])
	assert.Equal(t, 0.5, permissive.Threshold())

	conservative, err := CreateComposite([]Profile{a, b}, "composite", StrategyConservative)
	require.NoError(t, err)
	assert.False(t, conservative.VisualRules["face"])
	assert.Equal(t, 0.9, conservative.Threshold())

	_, err = CreateComposite([]Profile{a, b}, "composite", StrategyStrict)
	require.Error(t, err)
	var cerr *ConflictError
	assert.ErrorAs(t, err, &cerr)
}

func TestValidateRejectsBadProfile(t *testing.T) {
	p := New("", "")
	p.ConfidenceThreshold = floatPtr(2.0)
	errs := Validate(p)
	assert.Len(t, errs, 2)
}

func TestIsTypeEnabledLookupOrder(t *testing.T) {
	p := New("order", "")
	p.VisualRules["x"] = true
	p.TextRules["x"] = false
	assert.True(t, p.IsTypeEnabled("x"))
	assert.False(t, p.IsTypeEnabled("y"))
}

func TestCacheInvalidation(t *testing.T) {
	dir := t.TempDir()
	p := New("cached", "")
	writeProfile(t, dir, p)

	mgr := NewManager(dir)
	first, err := mgr.Load("cached", true)
	require.NoError(t, err)
	assert.Equal(t, "cached", first.Name)

	mgr.ClearCache()
	second, err := mgr.Load("cached", true)
	require.NoError(t, err)
	assert.Equal(t, first.Name, second.Name)
}
