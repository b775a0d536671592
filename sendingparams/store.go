package sendingparams

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/3nsoft-go/asmail-core/xtime"
)

const (
	ownParamsFile        = "own-params.json"
	othersParamsFile     = "params-from-others.json"
	anonymousInvitesFile = "anonymous-invites.json"
)

// FileStore is the narrow persistence contract the store is built
// over, mirroring objcache.DiskStore's shape: a real implementation
// lays these out at asmail/sending-params/<name> (§6 "On-disk
// layout"), but the store logic never depends on an actual filesystem.
type FileStore interface {
	Load(name string) ([]byte, bool, error)
	Save(name string, data []byte) error
}

// MemFileStore is an in-memory FileStore, used by tests.
type MemFileStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemFileStore returns an empty in-memory file store.
func NewMemFileStore() *MemFileStore {
	return &MemFileStore{files: make(map[string][]byte)}
}

func (m *MemFileStore) Load(name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.files[name]
	return v, ok, nil
}

func (m *MemFileStore) Save(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[name] = cp
	return nil
}

// InvitePublisher creates and uploads a new anonymous-sender invite
// token under a label when the store needs a default to suggest to an
// unknown correspondent. A real embedder backs this with the
// asmailconfig client's PUT anon-sender/invites (§4.K).
type InvitePublisher interface {
	PublishInvite(ctx context.Context, label string) (token string, err error)
}

// Store is the sending-params store (§4.L): own-params, params learned
// from others, and the anonymous-invite labels own-params defaults draw
// on. Each table is guarded by its own mutex and persisted in full after
// every mutation, matching the "order serial queue per file-backed JSON
// config" ordering guarantee (§5).
type Store struct {
	fs      FileStore
	invites InvitePublisher
	clock   xtime.Provider
	log     *logrus.Entry

	ownMu sync.Mutex
	own   map[string]OwnParams

	othersMu sync.Mutex
	others   map[string]OthersParams

	inviteMu    sync.Mutex
	inviteTable map[string]AnonymousInvite
}

// NewStore loads all three tables from fs and returns a ready Store.
// invites may be nil if the caller never needs SuggestDefaultParams to
// mint a fresh default invite (e.g. a read-only embedding).
func NewStore(fs FileStore, invites InvitePublisher, clock xtime.Provider) (*Store, error) {
	if clock == nil {
		clock = xtime.Default()
	}
	s := &Store{
		fs:          fs,
		invites:     invites,
		clock:       clock,
		log:         logrus.WithField("component", "sendingparams.store"),
		own:         make(map[string]OwnParams),
		others:      make(map[string]OthersParams),
		inviteTable: make(map[string]AnonymousInvite),
	}
	if err := loadTable(fs, ownParamsFile, &s.own); err != nil {
		return nil, err
	}
	if err := loadTable(fs, othersParamsFile, &s.others); err != nil {
		return nil, err
	}
	if err := loadTable(fs, anonymousInvitesFile, &s.inviteTable); err != nil {
		return nil, err
	}
	return s, nil
}

func loadTable(fs FileStore, name string, out interface{}) error {
	data, ok, err := fs.Load(name)
	if err != nil || !ok {
		return err
	}
	return json.Unmarshal(data, out)
}

func saveTable(fs FileStore, name string, table interface{}) error {
	data, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return fs.Save(name, data)
}

// OwnParamsFor returns addr's current own-params row, if any.
func (s *Store) OwnParamsFor(addr string) (OwnParams, bool) {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	op, ok := s.own[addr]
	return op, ok
}

// OthersParamsFor returns the last params addr's messages have left for
// us, if any.
func (s *Store) OthersParamsFor(addr string) (OthersParams, bool) {
	s.othersMu.Lock()
	defer s.othersMu.Unlock()
	op, ok := s.others[addr]
	return op, ok
}

// SuggestDefaultParams implements "on first outbound to an unknown
// address, a copy of the default params (with a fresh timestamp) is
// suggested" (§4.L). For an address already tracked, it returns the
// effective params (InUse if set, else Suggested) without minting
// anything new.
func (s *Store) SuggestDefaultParams(ctx context.Context, addr string) (ParamSet, error) {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()

	if existing, ok := s.own[addr]; ok {
		if existing.InUse != nil {
			return *existing.InUse, nil
		}
		if existing.Suggested != nil {
			return *existing.Suggested, nil
		}
	}

	invite, err := s.getOrCreateInvite(ctx, DefaultInviteLabel)
	if err != nil {
		return ParamSet{}, err
	}
	ps := ParamSet{Timestamp: s.clock.Now(), Invitation: invite.Token}
	s.own[addr] = OwnParams{Suggested: &ps}
	if err := saveTable(s.fs, ownParamsFile, s.own); err != nil {
		return ParamSet{}, err
	}
	return ps, nil
}

// getOrCreateInvite returns label's invite, minting and persisting one
// via invites if it does not exist yet. Callers must hold no other lock
// that could deadlock against inviteMu (SuggestDefaultParams is the
// only caller and does not hold inviteMu itself).
func (s *Store) getOrCreateInvite(ctx context.Context, label string) (AnonymousInvite, error) {
	s.inviteMu.Lock()
	defer s.inviteMu.Unlock()

	if inv, ok := s.inviteTable[label]; ok {
		return inv, nil
	}
	if s.invites == nil {
		return AnonymousInvite{}, errf(KindNotFound, "no invite for label %q and no publisher configured", label)
	}
	token, err := s.invites.PublishInvite(ctx, label)
	if err != nil {
		return AnonymousInvite{}, err
	}
	inv := AnonymousInvite{Label: label, Token: token, CreatedAt: s.clock.Now()}
	s.inviteTable[label] = inv
	if err := saveTable(s.fs, anonymousInvitesFile, s.inviteTable); err != nil {
		return AnonymousInvite{}, err
	}
	return inv, nil
}

// MarkInviteUsed implements inbox.InviteUsageMarker: once a peer echoes
// one of our invites back in an inbound message, the matching
// correspondent's own-params row is promoted suggested -> inUse.
func (s *Store) MarkInviteUsed(invite string) error {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()

	for addr, op := range s.own {
		if op.Suggested == nil || op.Suggested.Invitation != invite {
			continue
		}
		s.own[addr] = OwnParams{InUse: op.Suggested}
		return saveTable(s.fs, ownParamsFile, s.own)
	}
	return errf(KindNotFound, "no suggested params match invite %q", invite)
}

// UpdateFromMessage implements inbox.SendingParamsSink: the params a
// correspondent's message leaves for us are kept under
// last-writer-by-timestamp-wins, so a delayed or reordered delivery can
// never regress a later update (§4.L).
func (s *Store) UpdateFromMessage(correspondentAddr, introKeyID, serviceURL string, at time.Time) error {
	s.othersMu.Lock()
	defer s.othersMu.Unlock()

	if existing, ok := s.others[correspondentAddr]; ok && !at.After(existing.Timestamp) {
		s.log.WithField("addr", correspondentAddr).Debug("ignoring stale sending-params update")
		return nil
	}
	s.others[correspondentAddr] = OthersParams{Timestamp: at, IntroKeyID: introKeyID, ServiceURL: serviceURL}
	return saveTable(s.fs, othersParamsFile, s.others)
}
