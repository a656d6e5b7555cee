package vectorstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIndexID(t *testing.T) {
	assert.NoError(t, ValidateIndexID("3f2a9c1e-0000-4000-8000-000000000000"))
	for _, bad := range []string{"", "  ", "../etc", "a/b", `a\b`} {
		assert.ErrorIs(t, ValidateIndexID(bad), ErrInvalidIndexID, bad)
	}
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, CheckDimensions([]Record{{Vector: []float32{1, 2}}}, 2))
	assert.ErrorIs(t, CheckDimensions([]Record{{Vector: []float32{1}}}, 2), ErrDimensionMismatch)
}

func TestStorageName(t *testing.T) {
	assert.Equal(t, "qwen_4096", StorageName("qwen", 4096))
}

func TestFiniteScore(t *testing.T) {
	assert.Equal(t, 0.75, FiniteScore(0.75))
	assert.Equal(t, -0.5, FiniteScore(-0.5))
	assert.Equal(t, 0.0, FiniteScore(math.NaN()))
	assert.Equal(t, 0.0, FiniteScore(math.Inf(1)))
}
