package numerology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduceDates(t *testing.T) {
	tests := []struct {
		date   int
		value  int
		master bool
	}{
		// 2029-11-11 sums to 17 then 8; the repeated elevens in the
		// rendering never make the day itself master.
		{20291111, 8, false},
		{20281122, 9, false},
		{20270202, 6, false},
		{20261106, 9, false},
	}
	for _, tt := range tests {
		value, master := Reduce(tt.date)
		assert.Equal(t, tt.value, value, "date %d", tt.date)
		assert.Equal(t, tt.master, master, "date %d", tt.date)
	}
}

func TestReduceMasterIntermediate(t *testing.T) {
	// 29 -> 11 stays master instead of collapsing to 2.
	value, master := Reduce(29)
	assert.Equal(t, 11, value)
	assert.True(t, master)

	// 499 -> 22.
	value, master = Reduce(499)
	assert.Equal(t, 22, value)
	assert.True(t, master)
}

func TestReduceEdge(t *testing.T) {
	value, master := Reduce(0)
	assert.Equal(t, 0, value)
	assert.False(t, master)

	value, master = Reduce(7)
	assert.Equal(t, 7, value)
	assert.False(t, master)
}

func TestDigitSum(t *testing.T) {
	assert.Equal(t, 17, DigitSum(20291111))
	assert.Equal(t, 1, DigitSum(10))
	assert.Equal(t, 0, DigitSum(0))
}

func TestUniversalDay(t *testing.T) {
	digitSum, value, master := UniversalDay(20281122)
	assert.Equal(t, 18, digitSum)
	assert.Equal(t, 9, value)
	assert.False(t, master)
}

func TestComputeGematria(t *testing.T) {
	g := ComputeGematria("a")
	assert.Equal(t, 1, g.EnglishOrdinal)
	assert.Equal(t, 1, g.FullReduction)
	assert.Equal(t, 1, g.Jewish)
	assert.Equal(t, 6, g.English)

	// k is letter 10: ordinal 10, reduction restarts at 1.
	g = ComputeGematria("k")
	assert.Equal(t, 10, g.EnglishOrdinal)
	assert.Equal(t, 1, g.FullReduction)
	assert.Equal(t, 10, g.Jewish)
	assert.Equal(t, 60, g.English)

	// Non-letters are ignored, case folds.
	assert.Equal(t, ComputeGematria("abc"), ComputeGematria("A-B c!"))

	g = ComputeGematria("bitcoin")
	assert.Equal(t, 72, g.EnglishOrdinal)
	assert.Equal(t, 72*6, g.English)
}
