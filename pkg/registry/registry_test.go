package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[string]()

	require.NoError(t, r.Register("a", "alpha"))
	item, exists := r.Get("a")
	assert.True(t, exists)
	assert.Equal(t, "alpha", item)

	_, exists = r.Get("missing")
	assert.False(t, exists)
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewBaseRegistry[int]()

	assert.Error(t, r.Register("", 1))
	require.NoError(t, r.Register("a", 1))
	assert.Error(t, r.Register("a", 2))

	item, _ := r.Get("a")
	assert.Equal(t, 1, item)
}

func TestReplaceOverwrites(t *testing.T) {
	r := NewBaseRegistry[int]()

	r.Replace("a", 1)
	r.Replace("a", 2)

	item, exists := r.Get("a")
	assert.True(t, exists)
	assert.Equal(t, 2, item)
	assert.Equal(t, 1, r.Count())
}

func TestNamesSorted(t *testing.T) {
	r := NewBaseRegistry[int]()
	r.Replace("c", 3)
	r.Replace("a", 1)
	r.Replace("b", 2)

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
	assert.Len(t, r.List(), 3)
}

func TestRemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	r.Replace("a", 1)
	r.Replace("b", 2)

	require.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))
	assert.Equal(t, 1, r.Count())

	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Replace(fmt.Sprintf("key-%d", i), j)
				r.Get(fmt.Sprintf("key-%d", i))
				r.Names()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, r.Count())
}
