package timeseries

import (
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/log"
)

// Point is one time-series sample.
type Point struct {
	Timestamp int64
	Value     float64
	Tags      map[string]string
}

// partition owns the window [Start, End) and keeps its points sorted by
// timestamp.
type partition struct {
	start  int64
	end    int64
	points []Point
}

// PartitionInfo describes one partition for introspection.
type PartitionInfo struct {
	Start  int64
	End    int64
	Points int
}

// Stats summarizes a store, including the compression accounting: raw size
// counts 2 units per point (timestamp+value); compressed counts the
// delta-encoded timestamps (1 unit each) plus 2 units per RLE run of the
// values.
type Stats struct {
	Points           int
	Partitions       int
	RawSize          int
	CompressedSize   int
	CompressionRatio float64
}

// Config configures a store.
type Config struct {
	// Interval is the partition width in timestamp units.
	Interval int64
}

// Store is a columnar time-series store: fixed-interval partitions, each a
// timestamp-sorted point array.
type Store struct {
	mu       sync.RWMutex
	interval int64
	parts    map[int64]*partition
	logger   zerolog.Logger
}

// NewStore creates a store with the given partition interval.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Interval <= 0 {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "timeseries.new",
			"partition interval must be positive")
	}
	return &Store{
		interval: cfg.Interval,
		parts:    make(map[int64]*partition),
		logger:   log.WithComponent("timeseries"),
	}, nil
}

// partitionKey floors a timestamp onto its partition start, correct for
// negative timestamps too.
func (s *Store) partitionKey(ts int64) int64 {
	k := ts / s.interval
	if ts%s.interval < 0 {
		k--
	}
	return k * s.interval
}

// Ingest inserts one point at its sorted position in the owning partition.
func (s *Store) Ingest(p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingestLocked(p)
}

// IngestBatch inserts many points; equivalent to repeated Ingest.
func (s *Store) IngestBatch(points []Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.ingestLocked(p)
	}
}

func (s *Store) ingestLocked(p Point) {
	key := s.partitionKey(p.Timestamp)
	part, ok := s.parts[key]
	if !ok {
		part = &partition{start: key, end: key + s.interval}
		s.parts[key] = part
	}
	// Upper bound keeps equal timestamps in arrival order.
	pos := sort.Search(len(part.points), func(i int) bool {
		return part.points[i].Timestamp > p.Timestamp
	})
	part.points = append(part.points, Point{})
	copy(part.points[pos+1:], part.points[pos:])
	part.points[pos] = p
}

// QueryRange returns points with start <= Timestamp <= end, optionally
// filtered by tag equality, ordered by timestamp.
func (s *Store) QueryRange(start, end int64, tags map[string]string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Point
	for _, part := range s.sortedPartsLocked() {
		if part.end <= start || part.start > end {
			continue
		}
		lo := sort.Search(len(part.points), func(i int) bool {
			return part.points[i].Timestamp >= start
		})
		hi := sort.Search(len(part.points), func(i int) bool {
			return part.points[i].Timestamp > end
		})
		for _, p := range part.points[lo:hi] {
			if matchTags(p, tags) {
				out = append(out, p)
			}
		}
	}
	return out
}

func matchTags(p Point, tags map[string]string) bool {
	for k, v := range tags {
		if p.Tags[k] != v {
			return false
		}
	}
	return true
}

// sortedPartsLocked yields partitions in start order, so concatenating their
// slices is already the merged timestamp order.
func (s *Store) sortedPartsLocked() []*partition {
	keys := make([]int64, 0, len(s.parts))
	for k := range s.parts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]*partition, len(keys))
	for i, k := range keys {
		out[i] = s.parts[k]
	}
	return out
}

// AggregateSpec selects the aggregation of a range query. Bucket 0 collapses
// the whole range into one bucket. Percentile is only computed when
// PercentileRank is in (0, 100].
type AggregateSpec struct {
	Bucket         int64
	Tags           map[string]string
	PercentileRank float64
}

// Aggregate is one bucket's summary.
type Aggregate struct {
	Start      int64
	End        int64
	Count      int
	Sum        float64
	Avg        float64
	Min        float64
	Max        float64
	Percentile float64
}

// AggregateRange buckets [start, end] by spec.Bucket and summarizes each
// non-empty bucket. Percentile uses nearest-rank over a sorted copy of the
// bucket's values.
func (s *Store) AggregateRange(start, end int64, spec AggregateSpec) []Aggregate {
	points := s.QueryRange(start, end, spec.Tags)

	width := spec.Bucket
	if width <= 0 {
		width = end - start + 1
	}

	var out []Aggregate
	var cur *Aggregate
	var values []float64

	flush := func() {
		if cur == nil {
			return
		}
		cur.Avg = cur.Sum / float64(cur.Count)
		if spec.PercentileRank > 0 && spec.PercentileRank <= 100 {
			cur.Percentile = nearestRank(values, spec.PercentileRank)
		}
		out = append(out, *cur)
		cur = nil
		values = values[:0]
	}

	for _, p := range points {
		bucketStart := start + ((p.Timestamp-start)/width)*width
		if cur != nil && bucketStart != cur.Start {
			flush()
		}
		if cur == nil {
			bucketEnd := bucketStart + width
			if bucketEnd > end+1 {
				bucketEnd = end + 1
			}
			cur = &Aggregate{
				Start: bucketStart,
				End:   bucketEnd,
				Min:   math.Inf(1),
				Max:   math.Inf(-1),
			}
		}
		cur.Count++
		cur.Sum += p.Value
		if p.Value < cur.Min {
			cur.Min = p.Value
		}
		if p.Value > cur.Max {
			cur.Max = p.Value
		}
		values = append(values, p.Value)
	}
	flush()
	return out
}

// nearestRank is the nearest-rank percentile: the ceil(p/100 * n)-th smallest
// value.
func nearestRank(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Partitions lists partition metadata in start order.
func (s *Store) Partitions() []PartitionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PartitionInfo, 0, len(s.parts))
	for _, part := range s.sortedPartsLocked() {
		out = append(out, PartitionInfo{Start: part.start, End: part.end, Points: len(part.points)})
	}
	return out
}

// Stats computes the store summary and compression accounting.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Partitions: len(s.parts)}
	for _, part := range s.parts {
		n := len(part.points)
		st.Points += n
		st.RawSize += 2 * n

		timestamps := make([]int64, n)
		values := make([]float64, n)
		for i, p := range part.points {
			timestamps[i] = p.Timestamp
			values[i] = p.Value
		}
		st.CompressedSize += len(DeltaEncode(timestamps))
		st.CompressedSize += 2 * len(RLEEncode(values))
	}
	if st.RawSize > 0 {
		st.CompressionRatio = float64(st.CompressedSize) / float64(st.RawSize)
	}
	return st
}

// DropBefore removes whole partitions whose window ends at or before t.
// Returns the number of points dropped.
func (s *Store) DropBefore(t int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, part := range s.parts {
		if part.end <= t {
			dropped += len(part.points)
			delete(s.parts, key)
		}
	}
	if dropped > 0 {
		s.logger.Debug().Int("points", dropped).Int64("before", t).Msg("partitions dropped")
	}
	return dropped
}

// Clear removes every partition.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = make(map[int64]*partition)
}

// Interval returns the partition width.
func (s *Store) Interval() int64 { return s.interval }
