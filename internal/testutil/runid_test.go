package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountingRunIDGenerator(t *testing.T) {
	gen := NewCountingRunIDGenerator("scenario")

	assert.Equal(t, "scenario-1", gen.Generate())
	assert.Equal(t, "scenario-2", gen.Generate())

	gen.Reset()
	assert.Equal(t, "scenario-1", gen.Generate())
}

func TestCountingRunIDGenerator_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "run-1", NewCountingRunIDGenerator("").Generate())
}
