package cache

import (
	"container/list"
	"image"
	"sync"
)

// DefaultCapacity is the entry limit used when none is configured.
const DefaultCapacity = 100

// Observer is told about every eviction before the entry is discarded.
// Implementations must be cheap; they run with the cache locked.
type Observer interface {
	Evicted(key string)
}

type imageEntry struct {
	key    string
	bitmap image.Image
	cost   int64
}

// ImageCache is a strict least-recently-used map from content key to decoded
// bitmap, bounded by entry count. It is safe for concurrent use.
type ImageCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lruList  *list.List
	cost     int64
	observer Observer
}

func NewImageCache(capacity int, observer Observer) *ImageCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ImageCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
		observer: observer,
	}
}

// Get returns the bitmap for key and marks it most recently used.
func (c *ImageCache) Get(key string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*imageEntry).bitmap, true
}

// Set inserts or replaces the bitmap for key, marks it most recently used and
// evicts from the cold end until the cache is within capacity.
func (c *ImageCache) Set(key string, bitmap image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cost := approximateCost(bitmap)

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*imageEntry)
		c.cost += cost - ent.cost
		ent.bitmap = bitmap
		ent.cost = cost
		c.lruList.MoveToFront(elem)
		return
	}

	ent := &imageEntry{key: key, bitmap: bitmap, cost: cost}
	c.items[key] = c.lruList.PushFront(ent)
	c.cost += cost

	for c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *ImageCache) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	ent := oldest.Value.(*imageEntry)
	if c.observer != nil {
		c.observer.Evicted(ent.key)
	}
	delete(c.items, ent.key)
	c.lruList.Remove(oldest)
	c.cost -= ent.cost
}

func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

func (c *ImageCache) Capacity() int {
	return c.capacity
}

// Cost is the approximate number of pixel bytes held by the cache.
func (c *ImageCache) Cost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cost
}

func (c *ImageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lruList = list.New()
	c.cost = 0
}

func approximateCost(bitmap image.Image) int64 {
	if bitmap == nil {
		return 0
	}
	b := bitmap.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
