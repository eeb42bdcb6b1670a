// Package vectorindex stores embeddings and answers nearest-neighbour
// queries. Every query is scoped to one user inside the index.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Record kinds.
const (
	KindConversation = "conversation"
	KindNote         = "note"
)

var (
	ErrFilterRequired    = errors.New("vectorindex: filter.UserID is required")
	ErrDimensionMismatch = errors.New("vectorindex: vector dimension mismatch")
	ErrIDConflict        = errors.New("vectorindex: id belongs to another user")
)

// Metadata is stored alongside each vector.
type Metadata struct {
	UserID string `json:"userId"`
	Text   string `json:"text,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

type Record struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Match is one query hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Filter restricts a query. UserID is mandatory; Kind is optional.
type Filter struct {
	UserID string
	Kind   string
}

type Index interface {
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Dimensions() int
}

// CheckQuery validates query arguments for an index of the given size.
func CheckQuery(dims int, vector []float32, filter Filter) error {
	if filter.UserID == "" {
		return ErrFilterRequired
	}
	return checkDims(dims, vector)
}

// CheckRecord validates a record before upsert.
func CheckRecord(dims int, rec Record) error {
	if rec.ID == "" {
		return errors.New("vectorindex: record id is required")
	}
	if rec.Metadata.UserID == "" {
		return ErrFilterRequired
	}
	return checkDims(dims, rec.Values)
}

func checkDims(dims int, vector []float32) error {
	if len(vector) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), dims)
	}
	return nil
}

// CosineSimilarity returns 0 for empty, zero or mismatched vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
