package keyring

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// UpdateBeforeExpiry is how far ahead of its certificate's expiry a
// published introductory key is rotated (§4.G).
const UpdateBeforeExpiry = 7 * 24 * time.Hour

// rotationTick is how often the rotation timer wakes up to check
// whether the current generation needs replacing: 1/20 of
// UpdateBeforeExpiry, per §4.G.
const rotationTick = UpdateBeforeExpiry / 20

// IntroKeyPublisher mints and uploads a fresh introductory key
// generation when the rotation timer decides one is due; it is the
// out-of-scope ASMail config/signing boundary (§4.K), injected rather
// than held as a direct reference.
type IntroKeyPublisher interface {
	// CertifyAndPublish signs pub under our MailerId chain and uploads
	// it as the new current generation, returning its certificate chain
	// bytes and key id.
	CertifyAndPublish(pub [32]byte) (kid string, certChain []byte, expiresAt time.Time, err error)
}

// Rotator runs the intro-key rotation timer described in §4.G.
type Rotator struct {
	keyring   *Keyring
	publisher IntroKeyPublisher
	clock     xtime.Provider
	log       *logrus.Entry
}

// NewRotator builds a Rotator over k, minting replacements through
// publisher.
func NewRotator(k *Keyring, publisher IntroKeyPublisher, clock xtime.Provider) *Rotator {
	if clock == nil {
		clock = xtime.Default()
	}
	return &Rotator{keyring: k, publisher: publisher, clock: clock, log: logrus.WithField("component", "keyring.rotator")}
}

// Run blocks, firing CheckAndRotate every rotationTick until ctx is
// cancelled.
func (r *Rotator) Run(ctx context.Context) {
	ticker := time.NewTicker(rotationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.CheckAndRotate(); err != nil {
				r.log.WithError(err).Warn("intro key rotation check failed")
			}
		}
	}
}

// CheckAndRotate rotates the current intro key generation if its
// certificate expires within UpdateBeforeExpiry of now, archiving the
// retiring generation into Previous.
func (r *Rotator) CheckAndRotate() error {
	r.keyring.mu.Lock()
	current := r.keyring.ownIntroKey
	r.keyring.mu.Unlock()

	now := r.clock.Now()
	needsRotation := current == nil || current.Current == nil
	if current != nil && current.Current != nil {
		needsRotation = !current.Current.ExpiresAt.After(now.Add(UpdateBeforeExpiry))
	}
	if !needsRotation {
		return nil
	}

	fresh, err := xcrypto.GenerateBoxKeyPair()
	if err != nil {
		return err
	}
	kid, certChain, expiresAt, err := r.publisher.CertifyAndPublish(fresh.Public)
	if err != nil {
		return err
	}

	newGen := &IntroKeyPair{Kid: kid, Public: fresh.Public, Private: fresh.Private, CreatedAt: now, ExpiresAt: expiresAt, CertChain: certChain}

	r.keyring.mu.Lock()
	defer r.keyring.mu.Unlock()
	var previous []*IntroKeyPair
	if current != nil {
		if current.Current != nil {
			retiredAt := now
			current.Current.RetiredAt = &retiredAt
			previous = append(previous, current.Current)
		}
		previous = append(previous, current.Previous...)
	}
	r.keyring.ownIntroKey = &PublishedIntroKey{Current: newGen, Previous: previous}
	return nil
}
