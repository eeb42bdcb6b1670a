package vectorindex

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force index for local runs and tests.
type MemoryIndex struct {
	dims int

	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{
		dims:    dims,
		records: make(map[string]Record),
	}
}

func (m *MemoryIndex) Dimensions() int { return m.dims }

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := CheckQuery(m.dims, vector, filter); err != nil {
		return nil, err
	}
	if topK < 1 {
		return nil, nil
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Metadata.UserID != filter.UserID {
			continue
		}
		if filter.Kind != "" && rec.Metadata.Kind != filter.Kind {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Score:    CosineSimilarity(vector, rec.Values),
			Metadata: rec.Metadata,
		})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, rec Record) error {
	if err := CheckRecord(m.dims, rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.records[rec.ID]; ok && prev.Metadata.UserID != rec.Metadata.UserID {
		return ErrIDConflict
	}
	rec.Values = slices.Clone(rec.Values)
	m.records[rec.ID] = rec
	return nil
}

// Delete is a no-op for unknown ids.
func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
