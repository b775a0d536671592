package keyring

import "time"

// Role classifies a reception pair's provenance (§3 "Correspondent key
// state").
type Role string

const (
	RoleIntroduced Role = "introduced"
	RoleSuggested  Role = "suggested"
	RoleInUse      Role = "in-use"
)

// CountRange is one contiguous run of the peer's observed msgCount
// values, used for replay-style detection (§3 "a received-message-
// count line (numeric segments)").
type CountRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// ReceptionPair is a pair this side can use to open incoming messages.
type ReceptionPair struct {
	Pid            string       `json:"pid"`
	RecipientKey   [32]byte     `json:"-"`
	SenderKey      [32]byte     `json:"-"`
	MasterKey      [32]byte     `json:"-"`
	Role           Role         `json:"role"`
	ReceivedCounts []CountRange `json:"receivedCounts,omitempty"`
	LastTS         time.Time    `json:"lastTs,omitempty"`
}

func (p *ReceptionPair) recordCount(n uint64) error {
	for _, r := range p.ReceivedCounts {
		if n >= r.From && n < r.To {
			return errf(KindReplay, "msgCount %d already observed in [%d,%d)", n, r.From, r.To)
		}
	}
	for i := range p.ReceivedCounts {
		r := &p.ReceivedCounts[i]
		if n == r.To {
			r.To = n + 1
			return nil
		}
		if n+1 == r.From {
			r.From = n
			return nil
		}
	}
	p.ReceivedCounts = append(p.ReceivedCounts, CountRange{From: n, To: n + 1})
	return nil
}

// SendingPair is this side's single active pair used to derive the
// next outbound master key.
type SendingPair struct {
	Pid       string   `json:"pid"`
	MasterKey [32]byte `json:"-"`
	OurPriv   [32]byte `json:"-"`
	OurPub    [32]byte `json:"ourPub"`
	TheirPub  [32]byte `json:"theirPub"`
	Counter   uint64   `json:"counter"`
	ViaIntro  bool      `json:"viaIntro"`
	IntroKeyID string   `json:"introKeyId,omitempty"`
}

func (p *SendingPair) nextCount() uint64 {
	n := p.Counter
	p.Counter++
	return n
}

// CorrespondentState is the per-canonical-address key state (§3).
type CorrespondentState struct {
	Address         string
	ReceptionPairs  map[string]*ReceptionPair // pid -> pair
	SendingPair     *SendingPair
	LastSuggestion  *SendingPair
	IntroKeyCache   *PublishedIntroKey
}

// IntroKeyPair is one generation of our published introductory
// key (§3 JWKeyPair), with its certificate chain bytes opaque to this
// package (produced by the IntroKeyPublisher, threaded through unchanged).
type IntroKeyPair struct {
	Kid       string
	Public    [32]byte
	Private   [32]byte
	CreatedAt time.Time
	ExpiresAt time.Time
	RetiredAt *time.Time
	CertChain []byte
}

// PublishedIntroKey is our own (or a correspondent's fetched) published
// introductory key record: a current generation plus retired previous
// generations kept around long enough to open messages encrypted
// against them (§3 "Published introductory key").
type PublishedIntroKey struct {
	Current  *IntroKeyPair
	Previous []*IntroKeyPair
}

// FindByKid returns the generation (current or previous) with kid.
func (p *PublishedIntroKey) FindByKid(kid string) (*IntroKeyPair, bool) {
	if p.Current != nil && p.Current.Kid == kid {
		return p.Current, true
	}
	for _, g := range p.Previous {
		if g.Kid == kid {
			return g, true
		}
	}
	return nil, false
}
