package otp

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeLength(t *testing.T) {
	for _, length := range []int{4, 6, 8, 10} {
		code, err := generateCode(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
	}
}

func TestGenerateCodeRange(t *testing.T) {
	// A 6-digit code is always in [100000, 999999]; the leading digit
	// is never zero.
	for i := 0; i < 200; i++ {
		code, err := generateCode(6)
		require.NoError(t, err)

		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestGenerateCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode(6)
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 40, "codes should be effectively unique")
}

func TestGenerateCodeRejectsBadLength(t *testing.T) {
	_, err := generateCode(3)
	assert.Error(t, err)

	_, err = generateCode(11)
	assert.Error(t, err)
}
