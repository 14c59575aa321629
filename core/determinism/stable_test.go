package determinism

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"USD-GBP": 1, "EUR-USD": 2, "GBP-EUR": 3}
	for i := 0; i < 10; i++ {
		assert.Equal(t, []string{"EUR-USD", "GBP-EUR", "USD-GBP"}, SortedKeys(m))
	}
	assert.Empty(t, SortedKeys(map[string]int(nil)))
}

// TestSortSliceIsStable keeps equal elements in their input order
func TestSortSliceIsStable(t *testing.T) {
	type pair struct {
		key string
		seq int
	}
	in := []pair{{"b", 1}, {"a", 2}, {"b", 3}, {"a", 4}}
	SortSlice(in, func(a, b pair) bool { return a.key < b.key })
	assert.Equal(t, []pair{{"a", 2}, {"a", 4}, {"b", 1}, {"b", 3}}, in)
}

func TestIDGeneratorIsStable(t *testing.T) {
	g := NewIDGenerator("record")
	assert.Equal(t, g.Generate("a", "b"), g.Generate("a", "b"))
	assert.NotEqual(t, g.Generate("a", "b"), g.Generate("ab"))
}
