package pricefeed

import (
	"sync"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/domain"
)

// Cache is the in-memory price cache shared by the channel loops and every
// price consumer. Updates are last-write-wins per key; staleness is the
// reader's call via PricePoint.Age.
type Cache struct {
	mu     sync.RWMutex
	points map[string]domain.PricePoint
}

func NewCache() *Cache {
	return &Cache{points: make(map[string]domain.PricePoint)}
}

func (c *Cache) Set(key string, p domain.PricePoint) {
	c.mu.Lock()
	c.points[key] = p
	c.mu.Unlock()
}

func (c *Cache) Get(key string) (domain.PricePoint, bool) {
	c.mu.RLock()
	p, ok := c.points[key]
	c.mu.RUnlock()
	return p, ok
}

func (c *Cache) GetAll() map[string]domain.PricePoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]domain.PricePoint, len(c.points))
	for k, v := range c.points {
		out[k] = v
	}
	return out
}

func (c *Cache) Remove(key string) {
	c.mu.Lock()
	delete(c.points, key)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.points = make(map[string]domain.PricePoint)
	c.mu.Unlock()
}

var _ port.PriceStore = (*Cache)(nil)
