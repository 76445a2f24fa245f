package trainer

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestLRSchedule_Phases(t *testing.T) {
	s := LRSchedule{BaseLR: 0.1, MinLR: 0.01, WarmupEpochs: 3, DecayEpochs: 10}

	// 预热单调上升且不超过 BaseLR
	assert.InDelta(t, 0.025, s.At(0), 1e-12)
	assert.InDelta(t, 0.05, s.At(1), 1e-12)
	assert.InDelta(t, 0.075, s.At(2), 1e-12)

	// 衰减阶段起点接近 BaseLR，单调下降
	prev := s.At(3)
	assert.LessOrEqual(t, prev, 0.1)
	for e := 4; e < 9; e++ {
		lr := s.At(e)
		assert.Less(t, lr, prev, "epoch %d", e)
		prev = lr
	}

	// 衰减结束后保持 MinLR
	assert.Equal(t, 0.01, s.At(9))
	assert.Equal(t, 0.01, s.At(1000))
}

func TestLRSchedule_Constant(t *testing.T) {
	s := ConstantSchedule(0.2)
	for _, e := range []int{0, 1, 50} {
		assert.Equal(t, 0.2, s.At(e))
	}
	assert.NoError(t, s.Validate())
}

func TestLRSchedule_ZeroMinStaysPositive(t *testing.T) {
	s := LRSchedule{BaseLR: 1, MinLR: 0, DecayEpochs: 4}
	assert.Greater(t, s.At(3), 0.0)
	assert.Greater(t, s.At(10), 0.0)
}

func TestLRSchedule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       LRSchedule
		wantErr bool
	}{
		{"valid", LRSchedule{BaseLR: 0.1, MinLR: 0.01, WarmupEpochs: 1, DecayEpochs: 5}, false},
		{"zero base", LRSchedule{BaseLR: 0}, true},
		{"nan base", LRSchedule{BaseLR: math.NaN()}, true},
		{"min above base", LRSchedule{BaseLR: 0.1, MinLR: 0.2}, true},
		{"negative warmup", LRSchedule{BaseLR: 0.1, WarmupEpochs: -1}, true},
		{"negative decay", LRSchedule{BaseLR: 0.1, DecayEpochs: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLRSchedule_AlwaysWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("0 < lr <= base", prop.ForAll(
		func(base, minFrac float64, warmup, decay, epoch int) bool {
			s := LRSchedule{BaseLR: base, MinLR: base * minFrac, WarmupEpochs: warmup, DecayEpochs: decay}
			lr := s.At(epoch)
			return lr > 0 && lr <= base*(1+1e-12)
		},
		gen.Float64Range(1e-4, 10),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 20),
		gen.IntRange(0, 200),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}

func TestEarlyStopper(t *testing.T) {
	e := NewEarlyStopper(2, 0.01)
	assert.False(t, e.Observe(1.0))
	assert.False(t, e.Observe(0.5))
	assert.False(t, e.Observe(0.495)) // 改善不足 MinDelta
	assert.True(t, e.Observe(0.499))

	best, ok := e.Best()
	assert.True(t, ok)
	assert.Equal(t, 0.5, best)

	t.Run("improvement resets patience", func(t *testing.T) {
		e := NewEarlyStopper(2, 0)
		assert.False(t, e.Observe(1))
		assert.False(t, e.Observe(1))
		assert.False(t, e.Observe(0.9))
		assert.False(t, e.Observe(0.9))
		assert.True(t, e.Observe(0.95))
	})

	t.Run("disabled", func(t *testing.T) {
		e := NewEarlyStopper(0, 0)
		for i := 0; i < 10; i++ {
			assert.False(t, e.Observe(1))
		}
		var nilStopper *EarlyStopper
		assert.False(t, nilStopper.Observe(1))
	})
}
