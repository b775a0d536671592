package objcache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/3nsoft-go/asmail-core/xtime"
)

// DefaultTTL is the default idle lifetime of an in-memory message
// entry before it is swept from the hot cache (§4.F, §9 weak caches).
const DefaultTTL = 60 * time.Second

// KeyStatus is the decryption-attempt outcome recorded against a cache
// entry, per §4.F's transition rule.
type KeyStatus string

const (
	KeyStatusNotChecked KeyStatus = "not-checked"
	KeyStatusNotFound   KeyStatus = "not-found"
	KeyStatusFail       KeyStatus = "fail"
	KeyStatusOK         KeyStatus = "ok"
)

// MsgMeta is the server-reported metadata for an inbound message
// (§3 "Incoming message cache entry"). AuthSender, when non-empty, is
// the address the delivery server bound to this push during the
// sender's pre-flight (§4.I step 3a); Invite, when non-empty, names
// the anonymous-invite token the sender presented.
type MsgMeta struct {
	ObjIDs     []string  `json:"objIds"`
	DeliveryTS time.Time `json:"deliveryTS"`
	AuthSender string    `json:"authSender,omitempty"`
	Invite     string    `json:"invite,omitempty"`
}

// MsgStatus is the cache entry's mutable decrypt-attempt state.
type MsgStatus struct {
	KeyStatus  KeyStatus `json:"keyStatus"`
	DeliveryTS time.Time `json:"deliveryTS"`
	MainObjID  string    `json:"mainObjId"`
}

// entry is a message's live in-memory cache state.
type entry struct {
	msgID     string
	meta      MsgMeta
	status    MsgStatus
	objects   map[string]*objState
	objMu     sync.Mutex
	lastTouch time.Time
	refs      int
}

// Handle pins a message entry alive past the TTL sweep while the
// caller holds it; Release must be called exactly once.
type Handle struct {
	cache *Cache
	e     *entry
}

// Cache is the content-addressed object cache of §4.F.
type Cache struct {
	disk    DiskStore
	fetcher Fetcher
	clock   xtime.Provider
	ttl     time.Duration

	mu  sync.Mutex
	hot map[string]*entry // touched within ttl, or still pinned
}

// New builds a Cache over disk, downloading through fetcher.
func New(disk DiskStore, fetcher Fetcher, clock xtime.Provider) *Cache {
	if clock == nil {
		clock = xtime.Default()
	}
	return &Cache{disk: disk, fetcher: fetcher, clock: clock, ttl: DefaultTTL, hot: make(map[string]*entry)}
}

// CreateMsg registers a brand-new cache entry for msgID from freshly
// delivered server metadata, starting keyStatus at not-checked.
func (c *Cache) CreateMsg(msgID string, meta MsgMeta, mainObjID string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	status := MsgStatus{KeyStatus: KeyStatusNotChecked, DeliveryTS: meta.DeliveryTS, MainObjID: mainObjID}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	if err := c.disk.PutMeta(msgID, metaJSON); err != nil {
		return nil, err
	}
	if err := c.disk.PutStatus(msgID, statusJSON); err != nil {
		return nil, err
	}

	e := &entry{msgID: msgID, meta: meta, status: status, objects: make(map[string]*objState), lastTouch: c.clock.Now(), refs: 1}
	c.hot[msgID] = e
	return &Handle{cache: c, e: e}, nil
}

// Get resolves the cache entry for msgID, loading it from disk if it
// is not already hot, and pins it for the caller.
func (c *Cache) Get(msgID string) (*Handle, error) {
	c.mu.Lock()
	if e, ok := c.hot[msgID]; ok {
		e.refs++
		e.lastTouch = c.clock.Now()
		c.mu.Unlock()
		return &Handle{cache: c, e: e}, nil
	}
	c.mu.Unlock()

	metaJSON, ok, err := c.disk.GetMeta(msgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errf(KindNotFound, "message %s", msgID)
	}
	statusJSON, ok, err := c.disk.GetStatus(msgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errf(KindNotFound, "message %s has no status", msgID)
	}
	var meta MsgMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, err
	}
	var status MsgStatus
	if err := json.Unmarshal(statusJSON, &status); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.hot[msgID]; ok {
		e.refs++
		e.lastTouch = c.clock.Now()
		return &Handle{cache: c, e: e}, nil
	}
	e := &entry{msgID: msgID, meta: meta, status: status, objects: make(map[string]*objState), lastTouch: c.clock.Now(), refs: 1}
	c.hot[msgID] = e
	return &Handle{cache: c, e: e}, nil
}

// Sweep evicts every hot entry idle for longer than the cache's TTL
// that nobody currently holds (refs == 0), implementing the "preserve
// any entry still held by a caller" rule via the refcount rather than
// a true weak reference, which Go does not offer.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for id, e := range c.hot {
		if e.refs == 0 && now.Sub(e.lastTouch) > c.ttl {
			delete(c.hot, id)
		}
	}
}

// RemoveMsg purges msgID from both the hot cache and disk. It is
// idempotent, matching §4.J's removeMsg contract.
func (c *Cache) RemoveMsg(msgID string) error {
	c.mu.Lock()
	delete(c.hot, msgID)
	c.mu.Unlock()
	return c.disk.RemoveMsg(msgID)
}

// Release un-pins h; once every handle on an entry is released it
// becomes eligible for the next Sweep.
func (h *Handle) Release() {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	if h.e.refs > 0 {
		h.e.refs--
	}
}

// MsgID returns the handle's message id.
func (h *Handle) MsgID() string { return h.e.msgID }

// Meta returns the handle's server metadata.
func (h *Handle) Meta() MsgMeta { return h.e.meta }

// Status returns a copy of the handle's current status.
func (h *Handle) Status() MsgStatus { return h.e.status }

// SetKeyStatus transitions keyStatus away from not-checked exactly
// once; any later call (regardless of target) returns
// KindKeyStatusLocked (§4.F).
func (h *Handle) SetKeyStatus(s KeyStatus) error {
	if s == KeyStatusNotChecked {
		return errf(KindBadRange, "cannot set keyStatus back to not-checked")
	}
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	if h.e.status.KeyStatus != KeyStatusNotChecked {
		return errf(KindKeyStatusLocked, "keyStatus already %s", h.e.status.KeyStatus)
	}
	h.e.status.KeyStatus = s
	statusJSON, err := json.Marshal(h.e.status)
	if err != nil {
		return err
	}
	return h.cache.disk.PutStatus(h.e.msgID, statusJSON)
}

// ReadObjectRange returns bytes [start,end) of objID's combined
// header+segment stream, downloading through the fetcher as needed
// and persisting progress so a restart resumes where it left off.
func (h *Handle) ReadObjectRange(objID string, start, end int64) ([]byte, error) {
	h.e.objMu.Lock()
	st, ok := h.e.objects[objID]
	if !ok {
		st = &objState{}
		h.e.objects[objID] = st
	}
	h.e.objMu.Unlock()

	if err := st.ensure(h.e.msgID, objID, end, h.cache.fetcher, h.cache.disk); err != nil {
		return nil, err
	}
	return st.read(start, end), nil
}
