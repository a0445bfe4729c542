package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const upperAlnum = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomUpper returns n characters from an upper-case alphabet with the
// ambiguous ones (I, O, 0, 1) removed, suitable for human-readable codes.
func RandomUpper(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(upperAlnum))))
		buf[i] = upperAlnum[idx.Int64()]
	}
	return string(buf)
}

// GenerateOrderNumber produces the human-readable order number.
func GenerateOrderNumber() string {
	return fmt.Sprintf("ORD-%s", RandomUpper(10))
}
