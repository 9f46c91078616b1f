package timeseries

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltaRoundtrip(t *testing.T) {
	cases := [][]int64{
		nil,
		{42},
		{1, 2, 3, 4},
		{100, 90, 95, 95, -3},
	}
	for _, values := range cases {
		assert.Equal(t, values, DeltaDecode(DeltaEncode(values)))
	}
}

func TestDeltaEncodeShape(t *testing.T) {
	enc := DeltaEncode([]int64{10, 13, 13, 20})
	assert.Equal(t, []int64{10, 3, 0, 7}, enc)
}

func TestRLERoundtrip(t *testing.T) {
	cases := [][]float64{
		nil,
		{1.5},
		{1, 1, 1, 2, 2, 3},
		{5, 4, 5, 4},
	}
	for _, values := range cases {
		assert.Equal(t, values, RLEDecode(RLEEncode(values)))
	}
}

func TestRLEEncodeCollapsesRuns(t *testing.T) {
	runs := RLEEncode([]float64{7, 7, 7, 1, 7})
	assert.Equal(t, []Run{{7, 3}, {1, 1}, {7, 1}}, runs)
}

func TestCodecRoundtripRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(200)
		ts := make([]int64, n)
		vals := make([]float64, n)
		for i := range ts {
			ts[i] = rng.Int63n(1_000_000)
			vals[i] = float64(rng.Intn(5)) // small domain to force runs
		}
		assert.Equal(t, ts, DeltaDecode(DeltaEncode(ts)))
		assert.Equal(t, vals, RLEDecode(RLEEncode(vals)))
	}
}
