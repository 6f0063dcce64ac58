package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

// generateCode returns a uniformly distributed decimal code of the
// given length, drawn from [10^(n-1), 10^n - 1] so the first digit is
// never zero and every code has exactly n digits.
func generateCode(length int) (string, error) {
	if length < 4 || length > 10 {
		return "", fmt.Errorf("code length %d out of range", length)
	}

	low := int64(1)
	for i := 1; i < length; i++ {
		low *= 10
	}
	span := low*10 - low // number of n-digit values

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	return strconv.FormatInt(low+n.Int64(), 10), nil
}
