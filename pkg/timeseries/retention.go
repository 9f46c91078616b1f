package timeseries

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/log"
)

// Downsampler reduces one bucket summary to the single value stored in the
// coarse tier.
type Downsampler func(Aggregate) float64

// Built-in downsamplers.
var (
	DownsampleAvg Downsampler = func(a Aggregate) float64 { return a.Avg }
	DownsampleSum Downsampler = func(a Aggregate) float64 { return a.Sum }
	DownsampleMax Downsampler = func(a Aggregate) float64 { return a.Max }
	DownsampleMin Downsampler = func(a Aggregate) float64 { return a.Min }
)

// RetentionConfig describes a two-tier retention policy: raw points older
// than RawMaxAge are downsampled into the coarse tier at Bucket resolution,
// then the coarse tier itself ages out after CoarseMaxAge.
type RetentionConfig struct {
	RawMaxAge    int64
	CoarseMaxAge int64
	Bucket       int64
	Downsample   Downsampler
	// CheckInterval paces the background loop. Defaults to one minute.
	CheckInterval time.Duration
}

// Retention enforces a tiered retention policy over a raw store, aging
// expired raw partitions into a coarser store before dropping them.
type Retention struct {
	raw    *Store
	coarse *Store
	cfg    RetentionConfig
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewRetention wires a retention policy between a raw and a coarse store.
func NewRetention(raw, coarse *Store, cfg RetentionConfig) (*Retention, error) {
	if cfg.RawMaxAge <= 0 || cfg.Bucket <= 0 {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "timeseries.retention",
			"raw max age and bucket must be positive")
	}
	if cfg.Downsample == nil {
		cfg.Downsample = DownsampleAvg
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	return &Retention{
		raw:    raw,
		coarse: coarse,
		cfg:    cfg,
		logger: log.WithComponent("retention"),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins the enforcement loop.
func (r *Retention) Start() {
	go r.run()
}

// Stop stops the loop.
func (r *Retention) Stop() {
	close(r.stopCh)
}

func (r *Retention) run() {
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("retention enforcement started")

	for {
		select {
		case <-ticker.C:
			r.Enforce(time.Now().UnixMilli())
		case <-r.stopCh:
			r.logger.Info().Msg("retention enforcement stopped")
			return
		}
	}
}

// Enforce performs one enforcement cycle at the given reference time:
// downsample-then-drop expired raw partitions, then age out the coarse tier.
func (r *Retention) Enforce(now int64) {
	cutoff := now - r.cfg.RawMaxAge

	var expired []PartitionInfo
	for _, part := range r.raw.Partitions() {
		if part.End <= cutoff {
			expired = append(expired, part)
		}
	}

	for _, part := range expired {
		buckets := r.raw.AggregateRange(part.Start, part.End-1, AggregateSpec{Bucket: r.cfg.Bucket})
		for _, b := range buckets {
			r.coarse.Ingest(Point{Timestamp: b.Start, Value: r.cfg.Downsample(b)})
		}
	}
	if len(expired) > 0 {
		dropped := r.raw.DropBefore(cutoff)
		r.logger.Debug().Int("partitions", len(expired)).Int("points", dropped).
			Msg("raw tier downsampled")
	}

	if r.cfg.CoarseMaxAge > 0 {
		r.coarse.DropBefore(now - r.cfg.CoarseMaxAge)
	}
}
