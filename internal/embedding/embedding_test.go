package embedding

import (
	"context"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func testJoinTurnsKeepsLastN(t *rapid.T) {
	contents := rapid.SliceOf(rapid.StringMatching(`[a-z ]{0,12}`)).Draw(t, "contents")
	n := rapid.IntRange(1, 10).Draw(t, "n")

	got := JoinTurns(contents, n)

	start := 0
	if len(contents) > n {
		start = len(contents) - n
	}
	want := strings.Join(contents[start:], "\n")
	if got != want {
		t.Fatalf("JoinTurns(%q, %d) = %q, want %q", contents, n, got, want)
	}
}

func TestJoinTurnsKeepsLastN(t *testing.T) {
	rapid.Check(t, testJoinTurnsKeepsLastN)
}

func TestJoinTurns(t *testing.T) {
	turns := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	if got := JoinTurns(turns, RecentTurns); got != "3\n4\n5\n6\n7\n8" {
		t.Fatalf("JoinTurns = %q", got)
	}
	if got := JoinTurns(nil, RecentTurns); got != "" {
		t.Fatalf("JoinTurns(nil) = %q", got)
	}
}

func testHashEmbedderDeterministic(t *rapid.T) {
	dims := rapid.IntRange(1, 64).Draw(t, "dims")
	text := rapid.String().Draw(t, "text")
	e := NewHashEmbedder(dims)

	a, err := e.Embed(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(context.Background(), text)
	if len(a) != dims {
		t.Fatalf("len = %d, want %d", len(a), dims)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	rapid.Check(t, testHashEmbedderDeterministic)
}

func TestCheckDims(t *testing.T) {
	if _, err := checkDims("x", nil, 3); err == nil {
		t.Fatal("expected error for empty vector")
	}
	if _, err := checkDims("x", []float32{1, 2}, 3); err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
	if _, err := checkDims("x", []float32{1, 2, 3}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
