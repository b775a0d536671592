package inbox

import (
	"sync"
	"time"

	"github.com/3nsoft-go/asmail-core/message"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// readerEntry is one recently opened message, pinned in memory until it
// goes idle past ReaderCacheTTL (§4.J "a reader cache of recently
// opened messages (TTL 60s)").
type readerEntry struct {
	opened    *message.OpenedMessage
	lastTouch time.Time
}

// readerCache mirrors objcache.Cache's hot-map-plus-TTL shape, scaled
// down for a value (the parsed OpenedMessage) that needs no refcounting
// or disk persistence of its own.
type readerCache struct {
	mu    sync.Mutex
	clock xtime.Provider
	ttl   time.Duration
	hot   map[string]*readerEntry
}

func newReaderCache(clock xtime.Provider) *readerCache {
	if clock == nil {
		clock = xtime.Default()
	}
	return &readerCache{clock: clock, ttl: ReaderCacheTTL, hot: make(map[string]*readerEntry)}
}

func (c *readerCache) get(msgID string) (*message.OpenedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.hot[msgID]
	if !ok {
		return nil, false
	}
	e.lastTouch = c.clock.Now()
	return e.opened, true
}

func (c *readerCache) put(msgID string, opened *message.OpenedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot[msgID] = &readerEntry{opened: opened, lastTouch: c.clock.Now()}
}

func (c *readerCache) remove(msgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hot, msgID)
}

// sweep evicts every entry idle longer than the cache's TTL.
func (c *readerCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for id, e := range c.hot {
		if now.Sub(e.lastTouch) > c.ttl {
			delete(c.hot, id)
		}
	}
}
