package xspfs

import (
	"errors"
	"sync"

	"github.com/3nsoft-go/asmail-core/xcrypto"
)

// ChangeEvent is broadcast on a file-change after a successful commit
// (§4.E step 3).
type ChangeEvent struct {
	ObjID   string
	Version uint64
}

// NodesContainer memoizes live nodes by object id inside a storage,
// reserves ids for newly created nodes, and collapses concurrent
// resolution of the same object id into a single load (§4.E).
type NodesContainer struct {
	store   ObjectStore
	cryptor xcrypto.Cryptor

	mu      sync.Mutex
	live    map[string]*nodeHandle
	pending map[string]chan struct{}

	changesMu sync.Mutex
	listeners []chan ChangeEvent
}

type nodeHandle struct {
	node interface{} // *File, *Folder, or *Link
}

// NewNodesContainer builds a container over store using cryptor for
// every node's content encryption.
func NewNodesContainer(store ObjectStore, cryptor xcrypto.Cryptor) *NodesContainer {
	return &NodesContainer{
		store:   store,
		cryptor: cryptor,
		live:    make(map[string]*nodeHandle),
		pending: make(map[string]chan struct{}),
	}
}

// ReserveID allocates a fresh object id for a node about to be created.
func (c *NodesContainer) ReserveID() string {
	return c.store.GenerateObjID()
}

// Subscribe registers a channel that receives every committed
// file-change event. The caller owns draining it.
func (c *NodesContainer) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)
	c.changesMu.Lock()
	c.listeners = append(c.listeners, ch)
	c.changesMu.Unlock()
	return ch
}

func (c *NodesContainer) broadcast(ev ChangeEvent) {
	c.changesMu.Lock()
	defer c.changesMu.Unlock()
	for _, ch := range c.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// GetFile resolves (or memoizes) the File node for objID under fileKey,
// collapsing concurrent first-access via withSingleFlight.
func (c *NodesContainer) GetFile(objID, parentID string, fileKey [32]byte) (*File, error) {
	node, err := c.withSingleFlight(objID, func() (interface{}, error) {
		f := &File{base: newBase(c, objID, parentID, fileKey, NodeFile, nil)}
		if obj, err := f.openCurrent(); err == nil {
			f.version = obj.Header.ObjVersion
		} else if !errors.Is(err, &Error{Kind: KindNotFound}) {
			return nil, err
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return node.(*File), nil
}

// GetFolder resolves (or memoizes) the Folder node for objID under
// fileKey, loading its child table from storage on first access.
func (c *NodesContainer) GetFolder(objID, parentID string, fileKey [32]byte) (*Folder, error) {
	node, err := c.withSingleFlight(objID, func() (interface{}, error) {
		d := &Folder{base: newBase(c, objID, parentID, fileKey, NodeFolder, nil), table: map[string]childEntry{}}
		if obj, err := d.openCurrent(); err == nil {
			d.version = obj.Header.ObjVersion
			if err := d.load(); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, &Error{Kind: KindNotFound}) {
			return nil, err
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return node.(*Folder), nil
}

// GetLink resolves (or memoizes) the Link node for objID under fileKey,
// loading its target from storage on first access.
func (c *NodesContainer) GetLink(objID, parentID string, fileKey [32]byte) (*Link, error) {
	node, err := c.withSingleFlight(objID, func() (interface{}, error) {
		l := &Link{base: newBase(c, objID, parentID, fileKey, NodeLink, nil)}
		if obj, err := l.openCurrent(); err == nil {
			l.version = obj.Header.ObjVersion
			target, err := l.Load()
			if err != nil {
				return nil, err
			}
			l.Target = target
		} else if !errors.Is(err, &Error{Kind: KindNotFound}) {
			return nil, err
		}
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return node.(*Link), nil
}

// RawObject returns objID's raw encrypted header and segment bytes as
// currently persisted, for callers that push ciphertext over the wire
// directly (the sending side of §4.I never decrypts what it transmits).
func (c *NodesContainer) RawObject(objID string) (StoredObject, bool, error) {
	return c.store.Get(objID)
}

// withSingleFlight collapses concurrent first-access of the same objID
// into a single call to load; later callers for the same id block on
// the first's result rather than racing duplicate loads, matching the
// "stores promises for nodes under construction" behavior of §4.E.
func (c *NodesContainer) withSingleFlight(objID string, load func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if h, ok := c.live[objID]; ok {
		c.mu.Unlock()
		return h.node, nil
	}
	if wait, ok := c.pending[objID]; ok {
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
		h, ok := c.live[objID]
		c.mu.Unlock()
		if !ok {
			return nil, errf(KindNotFound, "object %s failed to load concurrently", objID)
		}
		return h.node, nil
	}
	wait := make(chan struct{})
	c.pending[objID] = wait
	c.mu.Unlock()

	node, err := load()

	c.mu.Lock()
	delete(c.pending, objID)
	if err == nil {
		c.live[objID] = &nodeHandle{node: node}
	}
	c.mu.Unlock()
	close(wait)

	return node, err
}
