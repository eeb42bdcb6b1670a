// Package embedding turns text into fixed-size vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RecentTurns is how many trailing conversation turns are embedded per request.
const RecentTurns = 6

var ErrEmptyEmbedding = errors.New("embedding: provider returned no vector")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// JoinTurns joins the content of the last n turns with newlines.
func JoinTurns(contents []string, n int) string {
	if n > 0 && len(contents) > n {
		contents = contents[len(contents)-n:]
	}
	return strings.Join(contents, "\n")
}

func checkDims(provider string, got []float32, want int) ([]float32, error) {
	if len(got) == 0 {
		return nil, fmt.Errorf("%s: %w", provider, ErrEmptyEmbedding)
	}
	if want > 0 && len(got) != want {
		return nil, fmt.Errorf("%s: embedding has %d dimensions, index expects %d", provider, len(got), want)
	}
	return got, nil
}
