package image

import "sync"

// Cache is the process-wide, insert-once image cache: images outlive every
// session and are read-only once parsed, so a concurrent map with no
// eviction is the whole implementation.
type Cache struct {
	mu     sync.Mutex
	byName map[string]*Image
}

func NewCache() *Cache {
	return &Cache{byName: make(map[string]*Image)}
}

// GetOrOpen returns the cached image for name, opening and inserting it via
// loadRaw on first reference. Concurrent first references for the same name
// block on the cache lock rather than racing to open twice.
func (c *Cache) GetOrOpen(name string, loadRaw func() ([]byte, error)) (*Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.byName[name]; ok {
		return img, nil
	}
	raw, err := loadRaw()
	if err != nil {
		return nil, err
	}
	img, err := Open(raw)
	if err != nil {
		return nil, err
	}
	c.byName[name] = img
	return img, nil
}

// Get returns the already-cached image for name, if any.
func (c *Cache) Get(name string) (*Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.byName[name]
	return img, ok
}
