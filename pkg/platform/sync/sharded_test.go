package sync

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMap_UpdateIsAtomicPerKey(t *testing.T) {
	m := NewShardedMap[int]()
	var wg sync.WaitGroup

	for range 200 {
		wg.Go(func() {
			m.Update("same-key", func(current int, _ bool) (int, bool) {
				return current + 1, true
			})
		})
	}
	wg.Wait()

	v, ok := m.Get("same-key")
	assert.True(t, ok)
	assert.Equal(t, 200, v)
}

func TestShardedMap_UpdateCanDelete(t *testing.T) {
	m := NewShardedMap[string]()
	m.Update("k", func(string, bool) (string, bool) { return "v", true })
	m.Update("k", func(string, bool) (string, bool) { return "", false })

	_, ok := m.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestShardedMap_Sweep(t *testing.T) {
	m := NewShardedMap[int]()
	for i := range 10 {
		m.Update("key-"+strconv.Itoa(i), func(int, bool) (int, bool) { return i, true })
	}

	removed := m.Sweep(func(_ string, v int) bool { return v%2 == 0 })

	assert.Equal(t, 5, removed)
	assert.Equal(t, 5, m.Len())
	_, ok := m.Get("key-4")
	assert.False(t, ok)
}

func TestShardFor(t *testing.T) {
	assert.Equal(t, 0, ShardFor("", 8))
	assert.Equal(t, 0, ShardFor("anything", 1))
	assert.Equal(t, ShardFor("actor-1", 8), ShardFor("actor-1", 8))

	// With 6 diverse keys and 32 shards we should hit at least 3 different shards.
	shards := make(map[int]bool)
	for _, key := range []string{"actor-123", "actor-456", "ip:10.0.0.1", "ip:10.0.0.2", "token-1", "token-2"} {
		shards[ShardFor(key, shardCount)] = true
	}
	assert.GreaterOrEqual(t, len(shards), 3)
}

func TestHashString(t *testing.T) {
	assert.Equal(t, hashString("test"), hashString("test"))
	assert.NotEqual(t, hashString("test1"), hashString("test2"))
	assert.Equal(t, uint32(0), hashString(""))
}
