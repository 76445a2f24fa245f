package scheduler

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPartition_Layout(t *testing.T) {
	tests := []struct {
		name     string
		params   int
		workers  int
		wantLo   []int
		wantHi   []int
		wantSeam []int
	}{
		{name: "single worker has no seams", params: 10, workers: 1, wantLo: []int{0}, wantHi: []int{10}, wantSeam: []int{}},
		{name: "even split", params: 12, workers: 3, wantLo: []int{0, 4, 8}, wantHi: []int{4, 8, 12}, wantSeam: []int{4, 8}},
		{name: "uneven split", params: 10, workers: 3, wantLo: []int{0, 3, 6}, wantHi: []int{3, 6, 10}, wantSeam: []int{3, 6}},
		{name: "more workers than params", params: 2, workers: 4, wantLo: []int{0, 0, 1, 1}, wantHi: []int{0, 1, 1, 2}, wantSeam: []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, seams := Partition(tt.params, tt.workers)
			require.Len(t, segments, tt.workers)
			for i, s := range segments {
				assert.Equal(t, i, s.ID)
				assert.Equal(t, tt.wantLo[i], s.Lo, "segment %d lo", i)
				assert.Equal(t, tt.wantHi[i], s.Hi, "segment %d hi", i)
			}
			assert.ElementsMatch(t, tt.wantSeam, seams)
			assert.Empty(t, verifyPartition(tt.params, segments, seams))
		})
	}
}

// 任意两段只可能在单个接缝下标处相邻，独占下标两两不相交且覆盖全部参数
func TestPartition_SegmentsNeverOverlap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		params := rapid.IntRange(1, 4096).Draw(t, "params")
		workers := rapid.IntRange(1, 64).Draw(t, "workers")
		segments, seams := Partition(params, workers)

		isSeam := make(map[int]bool, len(seams))
		for _, s := range seams {
			isSeam[s] = true
		}
		owner := make([]int, params)
		for i := range owner {
			owner[i] = -1
		}
		for _, seg := range segments {
			for i := seg.ExclusiveLo(); i < seg.Hi; i++ {
				if owner[i] != -1 {
					t.Fatalf("index %d owned by segments %d and %d", i, owner[i], seg.ID)
				}
				owner[i] = seg.ID
			}
		}
		for i, o := range owner {
			if o == -1 && !isSeam[i] {
				t.Fatalf("index %d is neither exclusive nor a seam", i)
			}
			if o != -1 && isSeam[i] {
				t.Fatalf("seam %d is also exclusive to segment %d", i, o)
			}
		}
		if len(seams) > workers-1 {
			t.Fatalf("%d seams for %d workers", len(seams), workers)
		}
	})
}

func TestGradientBuffer_AccumulateMatchesSerialSum(t *testing.T) {
	const params, workers = 37, 5
	buf := NewGradientBuffer(params, workers)

	partials := make([][]float64, workers)
	want := make([]float64, params)
	for w := range partials {
		partials[w] = make([]float64, params)
		for i := range partials[w] {
			v := float64((w+1)*(i%7)) - 3
			partials[w][i] = v
			want[i] += v
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			buf.Accumulate(id, partials)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, want, buf.Values())
}

func TestGradientBuffer_AccumulateWithDuplicateSeams(t *testing.T) {
	const params, workers = 3, 8
	buf := NewGradientBuffer(params, workers)
	partials := make([][]float64, workers)
	for w := range partials {
		partials[w] = []float64{1, 2, 3}
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			buf.Accumulate(id, partials)
		}(w)
	}
	wg.Wait()
	assert.Equal(t, []float64{8, 16, 24}, buf.Values())
}

func TestGradientBuffer_ReduceAndClip(t *testing.T) {
	tests := []struct {
		name      string
		data      []float64
		maxNorm   float64
		wantNorm  float64
		wantAfter []float64
	}{
		{name: "zero gradients are not scaled", data: []float64{0, 0, 0}, maxNorm: 1, wantNorm: 0, wantAfter: []float64{0, 0, 0}},
		{name: "below threshold untouched", data: []float64{0.3, 0.4}, maxNorm: 1, wantNorm: 0.5, wantAfter: []float64{0.3, 0.4}},
		{name: "above threshold scaled", data: []float64{3, 4}, maxNorm: 1, wantNorm: 5, wantAfter: []float64{0.6, 0.8}},
		{name: "clipping disabled", data: []float64{3, 4}, maxNorm: 0, wantNorm: 5, wantAfter: []float64{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewGradientBuffer(len(tt.data), 1)
			copy(buf.data, tt.data)
			norm, err := buf.ReduceAndClip(tt.maxNorm)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantNorm, norm, 1e-12)
			for i, v := range buf.Values() {
				assert.InDelta(t, tt.wantAfter[i], v, 1e-12)
			}
		})
	}
}

func TestGradientBuffer_NonFiniteRejected(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		buf := NewGradientBuffer(4, 2)
		buf.data[2] = bad
		_, err := buf.ReduceAndClip(1)
		var nerr *NumericError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "gradients", nerr.Where)
		assert.Equal(t, 2, nerr.Index)
	}
}

func TestGradientBuffer_ClippingIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")
		data := rapid.SliceOfN(rapid.Float64Range(-1e3, 1e3), n, n).Draw(t, "data")
		maxNorm := rapid.Float64Range(1e-3, 1e3).Draw(t, "maxNorm")

		buf := NewGradientBuffer(n, 1)
		copy(buf.data, data)
		if _, err := buf.ReduceAndClip(maxNorm); err != nil {
			t.Fatal(err)
		}
		once := buf.Values()
		if _, err := buf.ReduceAndClip(maxNorm); err != nil {
			t.Fatal(err)
		}
		for i, v := range buf.Values() {
			if v != once[i] {
				t.Fatalf("index %d changed on second clip: %v -> %v", i, once[i], v)
			}
		}
		if norm := buf.Norm(); norm > maxNorm*(1+1e-6) {
			t.Fatalf("norm %v exceeds max %v after clipping", norm, maxNorm)
		}
	})
}

func TestGradientBuffer_ZeroAndAddTo(t *testing.T) {
	buf := NewGradientBuffer(3, 1)
	copy(buf.data, []float64{1, 2, 3})
	dst := []float64{10, 10, 10}
	buf.AddTo(dst)
	assert.Equal(t, []float64{11, 12, 13}, dst)
	buf.Zero()
	assert.Equal(t, []float64{0, 0, 0}, buf.Values())
}

func TestGradientBuffer_InvalidShapePanics(t *testing.T) {
	assert.Panics(t, func() { NewGradientBuffer(0, 1) })
	assert.Panics(t, func() { NewGradientBuffer(4, 0) })
}
