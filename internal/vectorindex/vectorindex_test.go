package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

const testDims = 4

func genVector() *rapid.Generator[[]float32] {
	return rapid.SliceOfN(rapid.Float32Range(-1, 1), testDims, testDims)
}

func testQueryNeverCrossesUsers(t *rapid.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(testDims)

	users := rapid.SliceOfNDistinct(rapid.StringMatching(`user_[a-z0-9]{1,8}`), 2, 4, rapid.ID[string]).Draw(t, "users")
	n := rapid.IntRange(1, 30).Draw(t, "records")
	owner := make(map[string]string, n)
	for i := 0; i < n; i++ {
		user := rapid.SampledFrom(users).Draw(t, "owner")
		id := fmt.Sprintf("rec-%d", i)
		owner[id] = user
		err := idx.Upsert(ctx, Record{
			ID:       id,
			Values:   genVector().Draw(t, "values"),
			Metadata: Metadata{UserID: user, Kind: KindNote},
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	query := genVector().Draw(t, "query")
	topK := rapid.IntRange(1, 40).Draw(t, "topK")
	for _, user := range users {
		matches, err := idx.Query(ctx, query, topK, Filter{UserID: user})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(matches) > topK {
			t.Fatalf("got %d matches, topK %d", len(matches), topK)
		}
		for i, m := range matches {
			if owner[m.ID] != user {
				t.Fatalf("user %s received record %s owned by %s", user, m.ID, owner[m.ID])
			}
			if i > 0 && matches[i-1].Score < m.Score {
				t.Fatalf("matches not sorted by score: %v then %v", matches[i-1].Score, m.Score)
			}
		}
	}
}

func TestQueryNeverCrossesUsers(t *testing.T) {
	rapid.Check(t, testQueryNeverCrossesUsers)
}

func FuzzQueryNeverCrossesUsers(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testQueryNeverCrossesUsers))
}

func TestUpsertOverwritesByID(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(testDims)

	first := Record{ID: "user_1", Values: []float32{1, 0, 0, 0}, Metadata: Metadata{UserID: "user_1", Text: "old", Kind: KindConversation}}
	second := Record{ID: "user_1", Values: []float32{0, 1, 0, 0}, Metadata: Metadata{UserID: "user_1", Text: "new", Kind: KindConversation}}
	if err := idx.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}

	matches, err := idx.Query(ctx, []float32{0, 1, 0, 0}, 20, Filter{UserID: "user_1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Metadata.Text != "new" {
		t.Fatalf("matches = %+v, want the overwritten record", matches)
	}
}

func TestUpsertRejectsForeignID(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(testDims)

	if err := idx.Upsert(ctx, Record{ID: "shared", Values: []float32{1, 0, 0, 0}, Metadata: Metadata{UserID: "a"}}); err != nil {
		t.Fatal(err)
	}
	err := idx.Upsert(ctx, Record{ID: "shared", Values: []float32{0, 1, 0, 0}, Metadata: Metadata{UserID: "b"}})
	if !errors.Is(err, ErrIDConflict) {
		t.Fatalf("err = %v, want ErrIDConflict", err)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(testDims)

	_, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 20, Filter{})
	if !errors.Is(err, ErrFilterRequired) {
		t.Fatalf("empty filter: err = %v, want ErrFilterRequired", err)
	}

	_, err = idx.Query(ctx, []float32{1, 0}, 20, Filter{UserID: "u"})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("short query: err = %v, want ErrDimensionMismatch", err)
	}

	err = idx.Upsert(ctx, Record{ID: "x", Values: []float32{1, 2, 3, 4, 5}, Metadata: Metadata{UserID: "u"}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("long record: err = %v, want ErrDimensionMismatch", err)
	}
}

func TestKindFilterAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(testDims)

	_ = idx.Upsert(ctx, Record{ID: "u", Values: []float32{1, 0, 0, 0}, Metadata: Metadata{UserID: "u", Kind: KindConversation}})
	_ = idx.Upsert(ctx, Record{ID: "n1", Values: []float32{1, 0, 0, 0}, Metadata: Metadata{UserID: "u", Kind: KindNote}})

	matches, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 20, Filter{UserID: "u", Kind: KindNote})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "n1" {
		t.Fatalf("matches = %+v, want only n1", matches)
	}

	if err := idx.Delete(ctx, "n1"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete of unknown id: %v", err)
	}
	matches, _ = idx.Query(ctx, []float32{1, 0, 0, 0}, 20, Filter{UserID: "u", Kind: KindNote})
	if len(matches) != 0 {
		t.Fatalf("matches after delete = %+v", matches)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{0, 0}, []float32{1, 0}, 0},
		{[]float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := CosineSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
