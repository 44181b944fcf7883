package nlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happy2234/gopnik/internal/pii"
)

func TestDetectEmail(t *testing.T) {
	d := New(DefaultConfig())
	col, errs := d.Detect(Input{Text: "Contact me at jane.doe@example.com please.", PageNumber: 0})
	require.Empty(t, errs)
	require.Equal(t, 1, col.Len())
	assert.Equal(t, pii.TypeEmail, col.All()[0].Type)
	assert.GreaterOrEqual(t, col.All()[0].Confidence, 0.9)
}

func TestDetectMultiplePIITypesInOneText(t *testing.T) {
	d := New(DefaultConfig())
	col, errs := d.Detect(Input{Text: "John Doe / john.doe@example.com / (555) 123-4567", PageNumber: 0})
	require.Empty(t, errs)

	counts := col.Stats().CountByType
	assert.Equal(t, 1, counts[pii.TypeName])
	assert.Equal(t, 1, counts[pii.TypeEmail])
	assert.Equal(t, 1, counts[pii.TypePhone])
}

func TestDetectSSN(t *testing.T) {
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Text: "SSN: 123-45-6789", PageNumber: 0})
	require.Equal(t, 1, col.Len())
	assert.Equal(t, pii.TypeSSN, col.All()[0].Type)
}

func TestCreditCardRejectsNonLuhn(t *testing.T) {
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Text: "Card: 1234 5678 9012 3456", PageNumber: 0})
	assert.Equal(t, 0, col.Len())
}

func TestCreditCardAcceptsValidLuhn(t *testing.T) {
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Text: "Card: 4532015112830366", PageNumber: 0})
	require.Equal(t, 1, col.Len())
	assert.True(t, col.All()[0].Metadata["luhn_valid"].(bool))
}

func TestDOBRejectsFutureYear(t *testing.T) {
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Text: "DOB: 01/01/2999", PageNumber: 0})
	assert.Equal(t, 0, col.Len())
}

func TestDOBAcceptsValidYear(t *testing.T) {
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Text: "DOB: 01/01/1990", PageNumber: 0})
	require.Equal(t, 1, col.Len())
	assert.Equal(t, pii.TypeDOB, col.All()[0].Type)
}

func TestIPAddressRejectsOutOfRangeOctet(t *testing.T) {
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Text: "Host: 999.1.1.1 unreachable", PageNumber: 0})
	assert.Equal(t, 0, col.Len())
}

func TestIPAddressAccepted(t *testing.T) {
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Text: "Host: 192.168.1.10 reachable", PageNumber: 0})
	require.Equal(t, 1, col.Len())
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, luhnValid("4532015112830366"))
	assert.False(t, luhnValid("1234567890123456"))
}

func TestDisabledFamilyIsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableEmail = false
	d := New(cfg)
	col, _ := d.Detect(Input{Text: "jane@example.com", PageNumber: 0})
	assert.Equal(t, 0, col.Len())
}
