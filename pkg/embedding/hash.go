package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the width used by Hash when none is given.
const DefaultHashDimensions = 256

// Hash is a local feature-hashing embedder. It needs no network access and is
// deterministic, which makes it suitable for development and tests. Texts
// sharing words land close together; it carries no semantics beyond that.
type Hash struct {
	dims int
}

// NewHash returns a Hash embedder producing vectors of width dims.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &Hash{dims: dims}
}

// Embed hashes each lower-cased word into a bucket with a sign bit and
// L2-normalizes the result. Empty text yields the zero vector.
func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Dimensions returns the vector width.
func (h *Hash) Dimensions() int { return h.dims }
