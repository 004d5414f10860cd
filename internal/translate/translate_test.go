package translate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIndexes_SkipsEmptyLines(t *testing.T) {
	batches := chunkIndexes([]string{"a", "", "  ", "b"}, 100)
	require.Len(t, batches, 1)
	assert.Equal(t, []int{0, 3}, batches[0])
}

func TestChunkIndexes_SplitsOnSize(t *testing.T) {
	long := strings.Repeat("x", 60)
	batches := chunkIndexes([]string{long, long, long}, 130)
	require.Len(t, batches, 2)
	assert.Equal(t, []int{0, 1}, batches[0])
	assert.Equal(t, []int{2}, batches[1])
}

func TestChunkIndexes_AllEmpty(t *testing.T) {
	assert.Empty(t, chunkIndexes([]string{"", "   "}, 100))
	assert.Empty(t, chunkIndexes(nil, 100))
}

func TestChunkIndexes_SingleOversizedLineStillSent(t *testing.T) {
	// A line longer than the limit gets a batch of its own instead of
	// being dropped.
	long := strings.Repeat("x", 500)
	batches := chunkIndexes([]string{long}, 100)
	require.Len(t, batches, 1)
	assert.Equal(t, []int{0}, batches[0])
}
