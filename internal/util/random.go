// Package util provides utility functions for the CivicPipe application.
package util

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// GenerateNumericCode returns a uniformly random string of decimal digits
// suitable for one-time codes.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}

	var builder strings.Builder
	builder.Grow(length)

	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		builder.WriteByte(byte('0' + n.Int64()))
	}

	return builder.String(), nil
}
