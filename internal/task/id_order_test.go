package task

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLessNatural_NumericOrdering(t *testing.T) {
	ids := []string{"T-10", "T-2", "T-1"}
	sort.Slice(ids, func(i, j int) bool { return LessNatural(ids[i], ids[j]) })
	assert.Equal(t, []string{"T-1", "T-2", "T-10"}, ids)
}

func TestLessNatural_PlainStrings(t *testing.T) {
	assert.True(t, LessNatural("a", "b"))
	assert.False(t, LessNatural("b", "a"))
}

func TestLessNatural_PrefixShorter(t *testing.T) {
	assert.True(t, LessNatural("T-1", "T-1a"))
}
