package vector

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"
)

// HNSWConfig parameterizes the hierarchical graph. Zero values take the usual
// defaults; Seed makes the level assignment deterministic for reproducible
// builds and tests.
type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
}

func (c HNSWConfig) withDefaults() HNSWConfig {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 64
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

type hnswNode struct {
	id        string
	vec       []float32
	level     int
	neighbors [][]string // per level
}

// HNSWIndex is an approximate nearest-neighbor index over a hierarchical
// small-world graph. Search descends greedily from the top layer to layer 1,
// then runs a beam search with efSearch at layer 0.
type HNSWIndex struct {
	mu     sync.RWMutex
	metric Metric
	dims   int
	cfg    HNSWConfig
	nodes  map[string]*hnswNode
	entry  string
	rng    *rand.Rand
	mult   float64
}

// NewHNSWIndex creates an empty HNSW index.
func NewHNSWIndex(metric Metric, dims int, cfg HNSWConfig) *HNSWIndex {
	cfg = cfg.withDefaults()
	return &HNSWIndex{
		metric: metric,
		dims:   dims,
		cfg:    cfg,
		nodes:  make(map[string]*hnswNode),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		mult:   1 / math.Log(float64(cfg.M)),
	}
}

func (h *HNSWIndex) randomLevel() int {
	return int(math.Floor(-math.Log(h.rng.Float64()) * h.mult))
}

func (h *HNSWIndex) Add(id string, vec []float32) error {
	if err := checkDimensions("index.add", vec, h.dims); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		h.removeLocked(id)
	}

	level := h.randomLevel()
	node := &hnswNode{
		id:        id,
		vec:       append([]float32(nil), vec...),
		level:     level,
		neighbors: make([][]string, level+1),
	}

	if h.entry == "" {
		h.nodes[id] = node
		h.entry = id
		return nil
	}

	entryNode := h.nodes[h.entry]
	cur := []string{h.entry}

	// Greedy descent through layers above the new node's level.
	for l := entryNode.level; l > level; l-- {
		cur = h.searchLayer(vec, cur, 1, l)
	}

	// The node must be resolvable before backlinks are pruned against it.
	h.nodes[id] = node

	// Connect at every layer the node participates in.
	top := level
	if entryNode.level < top {
		top = entryNode.level
	}
	for l := top; l >= 0; l-- {
		found := h.searchLayer(vec, cur, h.cfg.EfConstruction, l)
		candidates := make([]string, 0, len(found))
		for _, fid := range found {
			if fid != id {
				candidates = append(candidates, fid)
			}
		}
		selected := h.selectNeighbors(vec, candidates, h.maxNeighbors(l))
		node.neighbors[l] = selected
		for _, nid := range selected {
			h.link(nid, id, l)
		}
		cur = found
	}

	if level > entryNode.level {
		h.entry = id
	}
	return nil
}

// link adds dst into src's layer-l neighbor list, pruning to the layer cap by
// distance when the list overflows.
func (h *HNSWIndex) link(src, dst string, l int) {
	n := h.nodes[src]
	if n == nil || l > n.level {
		return
	}
	for _, existing := range n.neighbors[l] {
		if existing == dst {
			return
		}
	}
	n.neighbors[l] = append(n.neighbors[l], dst)
	if limit := h.maxNeighbors(l); len(n.neighbors[l]) > limit {
		n.neighbors[l] = h.selectNeighbors(n.vec, n.neighbors[l], limit)
	}
}

func (h *HNSWIndex) maxNeighbors(level int) int {
	if level == 0 {
		return 2 * h.cfg.M
	}
	return h.cfg.M
}

// selectNeighbors keeps the m closest candidates to vec.
func (h *HNSWIndex) selectNeighbors(vec []float32, ids []string, m int) []string {
	type scored struct {
		id   string
		dist float64
	}
	list := make([]scored, 0, len(ids))
	for _, id := range ids {
		n := h.nodes[id]
		if n == nil {
			continue
		}
		list = append(list, scored{id, Distance(h.metric, vec, n.vec)})
	}
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].dist < list[j-1].dist; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	if len(list) > m {
		list = list[:m]
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.id
	}
	return out
}

// searchLayer is the beam search of the HNSW paper: expand the closest
// unexplored candidate until no candidate can improve the worst result.
func (h *HNSWIndex) searchLayer(query []float32, entries []string, ef, level int) []string {
	visited := make(map[string]bool)
	candidates := &minHeap{}
	results := &maxHeap{}
	heap.Init(candidates)
	heap.Init(results)

	for _, id := range entries {
		n := h.nodes[id]
		if n == nil || visited[id] {
			continue
		}
		visited[id] = true
		d := Distance(h.metric, query, n.vec)
		heap.Push(candidates, Candidate{id, d})
		heap.Push(results, Candidate{id, d})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Candidate)
		if results.Len() >= ef && c.Distance > (*results)[0].Distance {
			break
		}
		n := h.nodes[c.ID]
		if n == nil || level > n.level {
			continue
		}
		for _, nid := range n.neighbors[level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			nn := h.nodes[nid]
			if nn == nil {
				continue
			}
			d := Distance(h.metric, query, nn.vec)
			if results.Len() < ef || d < (*results)[0].Distance {
				heap.Push(candidates, Candidate{nid, d})
				heap.Push(results, Candidate{nid, d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]string, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(Candidate).ID
	}
	return out
}

func (h *HNSWIndex) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(id)
}

func (h *HNSWIndex) removeLocked(id string) bool {
	node, ok := h.nodes[id]
	if !ok {
		return false
	}
	delete(h.nodes, id)

	// Drop backlinks from the node's own neighbors; any stale reference
	// elsewhere is skipped at search time.
	for l := 0; l <= node.level; l++ {
		for _, nid := range node.neighbors[l] {
			n := h.nodes[nid]
			if n == nil || l > n.level {
				continue
			}
			for i, back := range n.neighbors[l] {
				if back == id {
					n.neighbors[l] = append(n.neighbors[l][:i], n.neighbors[l][i+1:]...)
					break
				}
			}
		}
	}

	if h.entry == id {
		h.entry = ""
		best := -1
		for nid, n := range h.nodes {
			if n.level > best {
				best = n.level
				h.entry = nid
			}
		}
	}
	return true
}

// Search returns up to k approximate nearest neighbors. The filter is applied
// to the beam results (post-filtering); callers wanting guaranteed counts
// under heavy filtering should over-fetch.
func (h *HNSWIndex) Search(query []float32, k int, filter func(id string) bool) []Candidate {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entry == "" || k <= 0 {
		return nil
	}

	entryNode := h.nodes[h.entry]
	cur := []string{h.entry}
	for l := entryNode.level; l > 0; l-- {
		cur = h.searchLayer(query, cur, 1, l)
	}

	ef := h.cfg.EfSearch
	if ef < k {
		ef = k
	}
	found := h.searchLayer(query, cur, ef, 0)

	out := make([]Candidate, 0, k)
	for _, id := range found {
		if filter != nil && !filter(id) {
			continue
		}
		n := h.nodes[id]
		if n == nil {
			continue
		}
		out = append(out, Candidate{ID: id, Distance: Distance(h.metric, query, n.vec)})
		if len(out) == k {
			break
		}
	}
	return out
}

func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// minHeap pops the closest candidate first.
type minHeap []Candidate

func (q minHeap) Len() int            { return len(q) }
func (q minHeap) Less(i, j int) bool  { return q[i].Distance < q[j].Distance }
func (q minHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minHeap) Push(x any)         { *q = append(*q, x.(Candidate)) }
func (q *minHeap) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// maxHeap pops the farthest result first, bounding the beam.
type maxHeap []Candidate

func (q maxHeap) Len() int            { return len(q) }
func (q maxHeap) Less(i, j int) bool  { return q[i].Distance > q[j].Distance }
func (q maxHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *maxHeap) Push(x any)         { *q = append(*q, x.(Candidate)) }
func (q *maxHeap) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
