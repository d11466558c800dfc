package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	points     map[string]Point
	dimensions int
}

func NewMemoryStore(dimensions int) *MemoryStore {
	return &MemoryStore{
		points:     make(map[string]Point),
		dimensions: dimensions,
	}
}

func (s *MemoryStore) ReplaceForDoc(ctx context.Context, tenantID, docID string, points []Point) error {
	for i := range points {
		if err := ValidateVector(points[i].Vector, s.dimensions); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.points {
		if p.Payload.TenantID == tenantID && p.Payload.DocID == docID {
			delete(s.points, id)
		}
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, filter Filter, topK int) ([]Result, error) {
	if err := ValidateVector(vector, s.dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 3
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Result
	for _, p := range s.points {
		if p.Payload.TenantID != filter.TenantID {
			continue
		}
		if filter.DocID != "" && p.Payload.DocID != filter.DocID {
			continue
		}
		results = append(results, Result{
			ID:      p.ID,
			Score:   CosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) DeleteForDoc(ctx context.Context, tenantID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload.TenantID == tenantID && p.Payload.DocID == docID {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteForTenant(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload.TenantID == tenantID {
			delete(s.points, id)
		}
	}
	return nil
}

// Count returns the number of stored points, for assertions in tests.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}
