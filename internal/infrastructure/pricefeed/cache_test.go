package pricefeed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevesarmiento/maximus/internal/domain"
)

func point(price float64) domain.PricePoint {
	return domain.PricePoint{Price: price, ReceivedAt: time.Now()}
}

func TestCacheSetGet(t *testing.T) {
	c := NewCache()

	c.Set("bitcoin", point(64000))

	got, ok := c.Get("bitcoin")
	require.True(t, ok)
	assert.Equal(t, 64000.0, got.Price)
	assert.GreaterOrEqual(t, got.Age(), time.Duration(0))
}

func TestCacheGetMissing(t *testing.T) {
	c := NewCache()

	_, ok := c.Get("never-seen")
	assert.False(t, ok)
}

func TestCacheLastWriteWins(t *testing.T) {
	c := NewCache()

	c.Set("sol", point(150))
	c.Set("sol", point(151))

	got, ok := c.Get("sol")
	require.True(t, ok)
	assert.Equal(t, 151.0, got.Price)
}

func TestCacheRemove(t *testing.T) {
	c := NewCache()

	c.Set("sol", point(150))
	c.Remove("sol")

	_, ok := c.Get("sol")
	assert.False(t, ok)
}

func TestCacheGetAllCopies(t *testing.T) {
	c := NewCache()
	c.Set("a", point(1))
	c.Set("b", point(2))

	all := c.GetAll()
	assert.Len(t, all, 2)

	// mutating the copy must not touch the cache
	delete(all, "a")
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestCacheClear(t *testing.T) {
	c := NewCache()
	c.Set("a", point(1))
	c.Set("b", point(2))

	c.Clear()
	assert.Empty(t, c.GetAll())
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set("sol", point(float64(j)))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Get("sol")
				c.GetAll()
			}
		}()
	}
	wg.Wait()

	_, ok := c.Get("sol")
	assert.True(t, ok)
}
