package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndexLinks(t *testing.T) {
	items := []Item{
		placed(t, "cnot", "cx", 1, []int{1}, []int{0}),
		placed(t, "h", "h0", 0, []int{0}, nil),
		placed(t, "h", "h1", 0, []int{1}, nil),
		placed(t, "x", "x2", 2, []int{2}, nil),
		placed(t, "z", "z0", 3, []int{0}, nil),
	}
	idx := BuildIndex(items)

	assert.ElementsMatch(t, []string{"h0", "h1"}, idx.Parents("cx"))
	assert.Equal(t, []string{"cx"}, idx.Children("h0"))
	assert.Equal(t, []string{"z0"}, idx.Children("cx"))
	assert.Empty(t, idx.Parents("x2"))
	assert.Equal(t, []string{"h0", "h1", "cx", "x2", "z0"}, idx.Ordered())
	assert.Equal(t, []string{"h0", "h1"}, idx.Column(0))
}

func TestIndexCellLookup(t *testing.T) {
	block := PlacedCircuit{
		ID:         "blk",
		Depth:      1,
		StartQubit: 1,
		Circuit: Template{Symbol: "B", Gates: Items{
			placed(t, "h", "i", 0, []int{0}, nil),
			placed(t, "h", "j", 3, []int{2}, nil),
		}},
	}
	s := State{PlacedGates: Items{block}, NumQubits: 4, Measurements: make([]bool, 4)}
	idx := s.Index()

	for q := 1; q <= 3; q++ {
		item, ok := idx.At(1, q)
		require.True(t, ok, q)
		assert.Equal(t, "blk", item.ItemID())
	}
	_, ok := idx.At(1, 0)
	assert.False(t, ok)
	_, ok = idx.At(2, 2)
	assert.False(t, ok, "nested block occupies only its own column")

	assert.True(t, idx.Free(0, Span{Start: 0, End: 3}))
	assert.False(t, idx.Free(1, Span{Start: 0, End: 1}))
}
