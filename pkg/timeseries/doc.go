/*
Package timeseries implements pocket's columnar time-series store.

Points are assigned to fixed-interval partitions by floor(timestamp/interval)
and kept timestamp-sorted inside each partition, so range queries binary-
search the slice bounds of every overlapping partition and concatenate them
in partition order. Tag filters are equality-only.

AggregateRange buckets a range ([s, s+W), [s+W, s+2W), ...) and summarizes
each non-empty bucket with count, sum, avg, min, max and an optional
nearest-rank percentile.

The compression accounting models each partition as delta-encoded timestamps
plus run-length-encoded values: raw size is two units per point, compressed
size is one unit per timestamp delta and two per value run. DeltaEncode and
RLEEncode round-trip exactly.

Retention is either direct (DropBefore removes partitions whose window has
fully expired) or tiered: a Retention loop downsamples expired raw partitions
into a coarser store through a configured Downsampler before dropping them,
and ages the coarse tier out on its own schedule.
*/
package timeseries
