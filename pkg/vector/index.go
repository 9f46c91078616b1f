package vector

import (
	"sort"
	"sync"
)

// Candidate is one scored id returned by an index.
type Candidate struct {
	ID       string
	Distance float64
}

// Index is a dense-vector nearest-neighbor structure. Implementations must
// keep Add/Remove consistent with concurrent Search calls.
//
// The filter, when non-nil, restricts the candidate set. FlatIndex applies it
// before scoring (exact pre-filtering); HNSWIndex cannot, so its callers
// filter the returned candidates instead.
type Index interface {
	Add(id string, vec []float32) error
	Remove(id string) bool
	Search(query []float32, k int, filter func(id string) bool) []Candidate
	Len() int
}

// FlatIndex is the exact brute-force index: every query scores all (or all
// filter-accepted) vectors.
type FlatIndex struct {
	mu     sync.RWMutex
	metric Metric
	dims   int
	vecs   map[string][]float32
}

// NewFlatIndex creates an empty flat index.
func NewFlatIndex(metric Metric, dims int) *FlatIndex {
	return &FlatIndex{metric: metric, dims: dims, vecs: make(map[string][]float32)}
}

func (f *FlatIndex) Add(id string, vec []float32) error {
	if err := checkDimensions("index.add", vec, f.dims); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs[id] = append([]float32(nil), vec...)
	return nil
}

func (f *FlatIndex) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vecs[id]; !ok {
		return false
	}
	delete(f.vecs, id)
	return true
}

func (f *FlatIndex) Search(query []float32, k int, filter func(id string) bool) []Candidate {
	f.mu.RLock()
	defer f.mu.RUnlock()

	candidates := make([]Candidate, 0, len(f.vecs))
	for id, vec := range f.vecs {
		if filter != nil && !filter(id) {
			continue
		}
		candidates = append(candidates, Candidate{ID: id, Distance: Distance(f.metric, query, vec)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ID < candidates[j].ID
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vecs)
}
