package delivery

import "sync"

// Store persists everything the engine needs to survive a restart: the
// message's object graph and envelopes (msg.json-equivalent),
// per-recipient progress (progress.json), and in-flight checkpoints
// (wips.json). A real embedder backs this with the synced/local
// filesystem named in §4.I; tests use MemStore.
type Store interface {
	SaveMsg(id string, msg StoredMsg) error
	LoadMsg(id string) (StoredMsg, bool, error)
	ListMsgIDs() ([]string, error)
	RemoveMsg(id string) error

	SaveProgress(id string, p Progress) error
	LoadProgress(id string) (Progress, bool, error)

	SaveWIPs(id string, w map[string]WIP) error
	LoadWIPs(id string) (map[string]WIP, bool, error)
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu        sync.Mutex
	msgs      map[string]StoredMsg
	progress  map[string]Progress
	wips      map[string]map[string]WIP
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		msgs:     make(map[string]StoredMsg),
		progress: make(map[string]Progress),
		wips:     make(map[string]map[string]WIP),
	}
}

func (s *MemStore) SaveMsg(id string, msg StoredMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[id] = msg
	return nil
}

func (s *MemStore) LoadMsg(id string) (StoredMsg, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	return m, ok, nil
}

func (s *MemStore) ListMsgIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.msgs))
	for id := range s.msgs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemStore) RemoveMsg(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, id)
	delete(s.progress, id)
	delete(s.wips, id)
	return nil
}

func (s *MemStore) SaveProgress(id string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[id] = p.clone()
	return nil
}

func (s *MemStore) LoadProgress(id string) (Progress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[id]
	return p.clone(), ok, nil
}

func (s *MemStore) SaveWIPs(id string, w map[string]WIP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]WIP, len(w))
	for k, v := range w {
		cp[k] = v
	}
	s.wips[id] = cp
	return nil
}

func (s *MemStore) LoadWIPs(id string) (map[string]WIP, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wips[id]
	if !ok {
		return nil, false, nil
	}
	cp := make(map[string]WIP, len(w))
	for k, v := range w {
		cp[k] = v
	}
	return cp, true, nil
}
