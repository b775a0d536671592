// Package asmailcore wires the ASMail client-core subsystems (§2) into
// one owned instance per user: identity, keyring, sending and
// receiving engines, config client, and sending-params store. Wiring
// follows §9's "plain struct with injected interface fields, no hidden
// globals" guidance; every out-of-scope collaborator (DNS transport,
// HTTP/WebSocket plumbing, on-disk stores, the low-level cryptor) is
// supplied by the embedder through Options rather than constructed
// here.
package asmailcore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/3nsoft-go/asmail-core/asmailconfig"
	"github.com/3nsoft-go/asmail-core/delivery"
	"github.com/3nsoft-go/asmail-core/inbox"
	"github.com/3nsoft-go/asmail-core/internal/obslog"
	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/locator"
	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/objcache"
	"github.com/3nsoft-go/asmail-core/sendingparams"
	"github.com/3nsoft-go/asmail-core/session"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xspfs"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// Identity bundles the signed material a Core needs to speak for its
// user: the long-lived address, the certificate chain that certifies
// an ephemeral signing key under it, and that ephemeral key itself
// (§4.C, the leaf of the three-level root -> provider -> user chain).
type Identity struct {
	Address       string
	SigningKey    *xcrypto.SigningKeyPair
	Kid           string
	CertChain     mailerid.Chain
	CertExpiresAt time.Time
}

// Options configures a Core. Every store/transport field is the
// narrow, package-owned interface named in §1's out-of-scope list; a
// zero-value Options plus the required fields below is sufficient for
// a Core that only exercises in-memory reference stores (tests), but a
// production embedder supplies disk- and network-backed
// implementations of each.
type Options struct {
	Identity Identity
	Clock    xtime.Provider
	Cryptor  xcrypto.Cryptor

	// DNSResolvers are tried in order by the service locator (§4.A).
	DNSResolvers []locator.Resolver

	// SessionTransport carries the raw MailerId login exchange and
	// authenticated config-client requests (§4.B).
	SessionTransport session.Transport
	// ConfigDoer issues the single unauthenticated GET used to fetch a
	// correspondent's published introductory key (§4.K).
	ConfigDoer asmailconfig.UnauthenticatedDoer

	// InboxTransport carries the retrieval-side wire protocol (§4.J).
	InboxTransport inbox.Transport
	// DeliveryTransport carries the delivery-side wire protocol (§4.I).
	DeliveryTransport delivery.Transport

	ObjDiskStore   objcache.DiskStore
	ObjFetcher     objcache.Fetcher
	XSPStore       xspfs.ObjectStore
	IndexStore     inbox.IndexStore
	DeliveryStore  delivery.Store
	ParamsFile     sendingparams.FileStore
}

// Core is one user's live ASMail client-core instance.
type Core struct {
	opts Options

	locator  *locator.Locator
	signer   *mailerid.Signer
	resolver *configResolver

	session       *session.Client
	Config        *asmailconfig.Client
	PubKeyFetcher *asmailconfig.PublicKeyFetcher

	Keyring       *keyring.Keyring
	rotator       *keyring.Rotator
	Cache         *objcache.Cache
	Container     *xspfs.NodesContainer
	Delivery      *delivery.Engine
	Inbox         *inbox.Engine
	SendingParams *sendingparams.Store

	clock   xtime.Provider
	cryptor xcrypto.Cryptor
	log     *obslog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// configResolver adapts locator.Locator to the narrow collaborator
// interfaces inbox and asmailconfig each declare for themselves
// (inbox.MidDomainResolver, asmailconfig.ConfigURLResolver): the two
// packages intentionally do not share one (see DESIGN.md).
type configResolver struct {
	loc *locator.Locator
}

func (r *configResolver) ResolveMidDomain(ctx context.Context, addr string) (string, error) {
	base, err := r.loc.Locate(ctx, addr, locator.KindMailerId)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(base, "https://"), nil
}

// ResolveConfigURL resolves addr's ASMail config base URL and MailerId
// domain. The ASMail service root document's "config" path (§6) is
// folded into a fixed "/config" suffix on the locator's base URL here
// rather than fetched, since resolving it properly means an extra
// unauthenticated HTTP round trip over the same out-of-scope transport
// boundary the root document itself sits behind; an embedder whose
// root document names a different path can wrap DNSResolvers/ConfigDoer
// to compensate without this package changing.
func (r *configResolver) ResolveConfigURL(ctx context.Context, addr string) (string, string, error) {
	base, err := r.loc.Locate(ctx, addr, locator.KindASMail)
	if err != nil {
		return "", "", err
	}
	midDomain, err := r.ResolveMidDomain(ctx, addr)
	if err != nil {
		return "", "", err
	}
	return base + "/config", midDomain, nil
}

// sessionDoer adapts session.Client.Do's (session.Response, error) to
// asmailconfig.Doer's own identically-shaped Response, the one-line
// adapter asmailconfig's doc comment anticipates.
type sessionDoer struct {
	c *session.Client
}

func (d *sessionDoer) Do(method, path string, body []byte) (asmailconfig.Response, error) {
	resp, err := d.c.Do(method, path, body)
	if err != nil {
		return asmailconfig.Response{}, err
	}
	return asmailconfig.Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// New builds a Core from opts. It does not start any background
// loops; call Start for that.
func New(opts Options) (*Core, error) {
	if opts.Identity.Address == "" {
		return nil, fmt.Errorf("asmailcore: Options.Identity.Address is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = xtime.Default()
	}
	cryptor := opts.Cryptor
	if cryptor == nil {
		cryptor = xcrypto.SecretboxCryptor{}
	}

	loc := locator.New(opts.DNSResolvers...)
	resolver := &configResolver{loc: loc}

	signer := mailerid.NewSigner(opts.Identity.Address, opts.Identity.SigningKey, opts.Identity.Kid, opts.Identity.CertChain, opts.Identity.CertExpiresAt, clock)

	midDomain, err := resolver.ResolveMidDomain(context.Background(), opts.Identity.Address)
	if err != nil {
		return nil, err
	}
	loginURL := "https://" + midDomain
	configBaseURL, _, err := resolver.ResolveConfigURL(context.Background(), opts.Identity.Address)
	if err != nil {
		return nil, err
	}
	sessClient := session.New(loginURL, configBaseURL, midDomain, opts.Identity.Address, signer, opts.SessionTransport)

	configClient := asmailconfig.New(&sessionDoer{c: sessClient}, signer, clock)
	pubKeyFetcher := asmailconfig.NewPublicKeyFetcher(opts.ConfigDoer, resolver, clock)

	kr := keyring.New(pubKeyFetcher)
	rotator := keyring.NewRotator(kr, configClient, clock)

	cache := objcache.New(opts.ObjDiskStore, opts.ObjFetcher, clock)
	container := xspfs.NewNodesContainer(opts.XSPStore, cryptor)

	deliveryEngine := delivery.NewEngine(opts.DeliveryStore, opts.DeliveryTransport, container, cryptor, kr, clock)

	paramsStore, err := sendingparams.NewStore(opts.ParamsFile, configClient, clock)
	if err != nil {
		return nil, err
	}

	inboxEngine := inbox.NewEngine(cache, container, cryptor, kr, opts.IndexStore, opts.InboxTransport, resolver, paramsStore, paramsStore, clock)

	return &Core{
		opts:          opts,
		locator:       loc,
		signer:        signer,
		resolver:      resolver,
		session:       sessClient,
		Config:        configClient,
		PubKeyFetcher: pubKeyFetcher,
		Keyring:       kr,
		rotator:       rotator,
		Cache:         cache,
		Container:     container,
		Delivery:      deliveryEngine,
		Inbox:         inboxEngine,
		SendingParams: paramsStore,
		clock:         clock,
		cryptor:       cryptor,
		log:           obslog.New("asmailcore", "Core").With("user", opts.Identity.Address),
	}, nil
}

// Start begins the long-running tasks: the inbox subscriber, the
// delivery scheduler's sequential worker and retry loop, and the
// keyring's intro-key rotation timer (§5 "small pool of long-running
// tasks"). It also rehydrates any in-flight delivery left over from a
// previous run.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.Inbox.Start(ctx)
	c.Delivery.Start(ctx)
	go c.rotator.Run(ctx)
	c.log.Entry().Info("core started")

	return c.Delivery.Restart()
}

// Close shuts Core down in the reverse-dependency order the
// specification requires (§5 "Shared resource policy"): inbox ->
// keyring -> delivery -> sending-params -> storages -> cryptor. Only
// inbox and delivery own background loops to stop; the rest have no
// teardown of their own, so closing them here is a no-op placeholder
// that keeps the order explicit for a future embedder that adds one
// (e.g. a disk store that needs to flush or close file handles).
func (c *Core) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.Inbox.Stop()
	// keyring: no background state to stop; the rotator goroutine exits
	// via ctx cancellation below.
	c.Delivery.Stop()
	// sending-params: file-backed, persisted synchronously on every
	// mutation; nothing to flush.
	// storages (ObjDiskStore, XSPStore, IndexStore, DeliveryStore,
	// ParamsFile): owned and closed by the embedder that supplied them.
	// cryptor: stateless in the SecretboxCryptor case; an embedder
	// backing it with hardware key storage closes its own handle.
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	c.log.Entry().Info("core closed")
}
