package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder used with --no-llm
// and in tests. Texts sharing words land close together.
type HashEmbedder struct {
	Dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{Dims: dims}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values := make([]float32, e.Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		values[(sum>>1)%uint64(e.Dims)] += sign
	}

	var norm float64
	for _, v := range values {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Keep the vector non-zero so cosine scores stay defined.
		values[0] = 1
		return values, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range values {
		values[i] *= scale
	}
	return values, nil
}
