package measure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutOfRangeReadsAsFar(t *testing.T) {
	assert.Equal(t, farRange, normalizeRange(0))
	assert.Equal(t, farRange, normalizeRange(9))
	assert.Equal(t, farRange, normalizeRange(8190))
	assert.Equal(t, 10, normalizeRange(10))
	assert.Equal(t, 2000, normalizeRange(2000))
}

func TestMedianOfConstantIsConstant(t *testing.T) {
	f := newMedianFilter(5)
	var out int
	for i := 0; i < 8; i++ {
		out = f.Add(420)
	}
	assert.Equal(t, 420, out)
}

func TestMedianEvenWindowAveragesMiddle(t *testing.T) {
	f := newMedianFilter(5)
	f.Add(100)
	assert.Equal(t, 150, f.Add(200))
}

func TestMedianDisabledForSmallFilter(t *testing.T) {
	f := newMedianFilter(1)
	f.Add(100)
	assert.Equal(t, 1500, f.Add(1500), "no outlier guard without filtering")
}

func TestOutlierGuardHoldsOnce(t *testing.T) {
	f := newMedianFilter(5)
	for i := 0; i < 5; i++ {
		f.Add(300)
	}
	// A single spike doesn't even reach the median buffer.
	assert.Equal(t, 300, f.Add(1500))
	assert.Equal(t, 300, f.Add(300))
	for i := 0; i < 5; i++ {
		assert.Equal(t, 300, f.Add(300))
	}

	// A sustained step is accepted on the second reading.
	f.Add(1500)
	f.Add(1500)
	f.Add(1500)
	f.Add(1500)
	assert.Equal(t, 1500, f.Add(1500))
}

func TestJumpSuppressor(t *testing.T) {
	var j jumpSuppressor
	assert.Equal(t, 300, j.Apply(300))
	assert.Equal(t, 300, j.Apply(900))
	assert.Equal(t, 300, j.Apply(900))
	assert.Equal(t, 900, j.Apply(900))

	// Small moves pass straight through and clear the hold count.
	assert.Equal(t, 1000, j.Apply(1000))
	assert.Equal(t, 1000, j.Apply(100))
	assert.Equal(t, 1050, j.Apply(1050))
	assert.Equal(t, 1050, j.Apply(100))
	assert.Equal(t, 1050, j.Apply(100))
	assert.Equal(t, 100, j.Apply(100))
}

func TestMedianHelper(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 3.0, median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	in := []float64{9, 1, 5}
	median(in)
	assert.Equal(t, []float64{9, 1, 5}, in, "input must not be reordered")
}
