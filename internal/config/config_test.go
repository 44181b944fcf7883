package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsBadConfidence(t *testing.T) {
	c := Default()
	c.MinConfidence = 1.5
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveWorkerCount(t *testing.T) {
	c := Default()
	c.WorkerCount = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNegativeRetention(t *testing.T) {
	c := Default()
	c.RetentionDays = -1
	assert.Error(t, c.Validate())
}
