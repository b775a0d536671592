// Package locator implements the ASMail service locator (§4.A): it
// resolves an address's domain to a base URL per service kind via DNS
// TXT records. Actual DNS transport — the system resolver, DNS-over-HTTPS,
// or any other mechanism — is an out-of-scope collaborator (spec §1):
// this package only consumes it, through the Resolver interface, which
// *net.Resolver already satisfies (grounded in foxcpp-maddy's
// dns.Resolver).
package locator

import (
	"context"
	"sort"
	"strings"

	"github.com/3nsoft-go/asmail-core/address"
)

// Kind enumerates the three ASMail-family service labels a TXT record
// may carry.
type Kind string

const (
	KindMailerId   Kind = "mailerid"
	KindASMail     Kind = "asmail"
	Kind3NStorage  Kind = "3nstorage"
)

var knownKinds = map[Kind]struct{}{KindMailerId: {}, KindASMail: {}, Kind3NStorage: {}}

// Resolver abstracts DNS TXT lookup. *net.Resolver satisfies this
// interface already; a DNS-over-HTTPS implementation is a second,
// equally valid implementation of the same interface, not a separate
// code path in this package.
type Resolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

// ErrKind enumerates locator failure classification (§4.A).
type ErrKind string

const (
	ErrNoServiceRecord ErrKind = "no-service-record"
	ErrDomainNotFound  ErrKind = "domain-not-found"
	ErrDNSConnect      ErrKind = "dns-connect"
)

// Error is the tagged error returned by Locate.
type Error struct {
	Kind   ErrKind
	Domain string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "service-locating: " + string(e.Kind) + " (" + e.Domain + "): " + e.Err.Error()
	}
	return "service-locating: " + string(e.Kind) + " (" + e.Domain + ")"
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// Locator resolves addresses to service base URLs using an ordered
// list of resolvers: each is tried in turn, and the locator returns the
// first success, or else the most specific failure (preferring a
// non-connectivity classification over dns-connect).
type Locator struct {
	resolvers []Resolver
}

// New builds a Locator that tries resolvers in order.
func New(resolvers ...Resolver) *Locator {
	return &Locator{resolvers: resolvers}
}

// Locate resolves kind's base URL ("https://<host>") for the domain of
// addr.
func (l *Locator) Locate(ctx context.Context, addr string, kind Kind) (string, error) {
	if _, ok := knownKinds[kind]; !ok {
		return "", &Error{Kind: ErrNoServiceRecord, Domain: addr, Err: errUnknownKind(kind)}
	}
	canon, err := address.Canon(addr)
	if err != nil {
		return "", &Error{Kind: ErrDomainNotFound, Domain: addr, Err: err}
	}
	domain := address.Domain(canon)
	return l.LocateDomain(ctx, domain, kind)
}

// LocateDomain is Locate without address parsing, for callers that
// already have a bare domain (e.g. resolving a provider's own domain
// while walking a certificate chain).
func (l *Locator) LocateDomain(ctx context.Context, domain string, kind Kind) (string, error) {
	var best *Error
	for _, r := range l.resolvers {
		txts, err := r.LookupTXT(ctx, domain)
		if err != nil {
			classified := classify(domain, err)
			if best == nil || specificity(classified.Kind) > specificity(best.Kind) {
				best = classified
			}
			continue
		}
		host, ok := parseTXT(txts, kind)
		if !ok {
			if best == nil || specificity(ErrNoServiceRecord) > specificity(best.Kind) {
				best = &Error{Kind: ErrNoServiceRecord, Domain: domain}
			}
			continue
		}
		return "https://" + host, nil
	}
	if best == nil {
		best = &Error{Kind: ErrNoServiceRecord, Domain: domain}
	}
	return "", best
}

// parseTXT scans all TXT records for domain, joining the strings of
// each record into one text and locating every "label=" occurrence of
// a known service label in it. Production records concatenate stanzas
// back-to-back with no separator (§4.A, §8 scenario 1), so a value
// can't be delimited by whitespace: it runs from just after its own
// "label=" up to wherever the next known label starts (or the end of
// the text), not up to the next space.
func parseTXT(txts []string, kind Kind) (string, bool) {
	joined := strings.Join(txts, "")

	type match struct {
		label Kind
		start int
		end   int // end of "label=", i.e. start of its value
	}
	var matches []match
	for label := range knownKinds {
		prefix := string(label) + "="
		from := 0
		for {
			idx := strings.Index(joined[from:], prefix)
			if idx < 0 {
				break
			}
			start := from + idx
			matches = append(matches, match{label: label, start: start, end: start + len(prefix)})
			from = start + len(prefix)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	for i, m := range matches {
		if m.label != kind {
			continue
		}
		end := len(joined)
		if i+1 < len(matches) {
			end = matches[i+1].start
		}
		value := strings.TrimSpace(joined[m.end:end])
		if value != "" {
			return value, true
		}
	}
	return "", false
}

func specificity(k ErrKind) int {
	switch k {
	case ErrDomainNotFound:
		return 2
	case ErrNoServiceRecord:
		return 1
	default:
		return 0
	}
}
