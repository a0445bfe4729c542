package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateOrderNumber(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-[A-HJ-NP-Z2-9]{10}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		number := GenerateOrderNumber()
		assert.Regexp(t, pattern, number)
		seen[number] = true
	}

	// 100 draws from a 32^10 space should never collide.
	assert.Len(t, seen, 100)
}

func TestRandomUpperLength(t *testing.T) {
	for _, n := range []int{1, 5, 10, 32} {
		assert.Len(t, RandomUpper(n), n)
	}
}
