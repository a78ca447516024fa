package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidModelName(t *testing.T) {
	for _, name := range []string{"improved_model", "baseline-v1", "model.v2"} {
		assert.True(t, ValidModelName(name), name)
	}
	for _, name := range []string{"", ".", "..", "../escaped", "a/b", `a\b`, "/abs"} {
		assert.False(t, ValidModelName(name), name)
	}
}
