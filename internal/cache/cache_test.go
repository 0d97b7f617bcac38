package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := NewLRUCache(4, 0)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestOverwriteKeepsSingleEntry(t *testing.T) {
	c := NewLRUCache(4, 0)
	c.Set("a", 1)
	c.Set("a", 2)

	v, _ := c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Size())
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	c := NewLRUCache(3, 0)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	assert.Equal(t, 3, c.Size())
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)
	assert.Equal(t, []string{"k4", "k3", "k2"}, c.Keys())
}

func TestTTLExpiry(t *testing.T) {
	c := NewLRUCache(4, 10*time.Millisecond)
	c.Set("short", 1)
	c.SetWithTTL("forever", 2, 0)

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, []string{"forever"}, c.Keys())
}

func TestDelete(t *testing.T) {
	c := NewLRUCache(4, 0)
	c.Set("a", 1)
	c.Delete("a")
	c.Delete("a") // absent, no-op

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}
