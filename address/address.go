// Package address implements canonicalization of ASMail user addresses.
//
// Addresses look like email addresses (local-part@domain). The core uses
// their canonical form everywhere a correspondent identity is a map key,
// so two spellings of the same address always collide.
package address

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalid is returned when an address has no "@" or an empty local
// part or domain after trimming.
var ErrInvalid = errors.New("address: invalid address")

// Canon returns the canonical form of a: whitespace-stripped,
// case-folded, with the domain IDNA-normalized. Canon is idempotent:
// Canon(Canon(a)) == Canon(a) for any address that canonicalizes
// successfully at all.
func Canon(a string) (string, error) {
	a = strings.TrimSpace(a)
	a = strings.ToLower(a)

	at := strings.LastIndexByte(a, '@')
	if at <= 0 || at == len(a)-1 {
		return "", ErrInvalid
	}
	local, domain := a[:at], a[at+1:]
	if local == "" || domain == "" {
		return "", ErrInvalid
	}

	// ToUnicode first so a domain that is already in U-label form and
	// one given in A-label (punycode) form canonicalize identically,
	// then fold to NFC the way foxcpp-maddy's dns.SelectIDNA does.
	uDomain, err := idna.ToUnicode(domain)
	if err != nil {
		return "", errors.Join(ErrInvalid, err)
	}
	uDomain = norm.NFC.String(uDomain)
	aDomain, err := idna.ToASCII(uDomain)
	if err != nil {
		return "", errors.Join(ErrInvalid, err)
	}

	return local + "@" + aDomain, nil
}

// MustCanon is like Canon but panics on error. It exists for tests and
// for literal addresses known at compile time.
func MustCanon(a string) string {
	c, err := Canon(a)
	if err != nil {
		panic(err)
	}
	return c
}

// Equal reports whether two addresses canonicalize to the same value.
func Equal(a, b string) bool {
	ca, errA := Canon(a)
	cb, errB := Canon(b)
	if errA != nil || errB != nil {
		return false
	}
	return ca == cb
}

// Domain returns the domain portion of a canonical address. It does not
// canonicalize its input; callers should pass an already-canonical
// address.
func Domain(canonAddr string) string {
	at := strings.LastIndexByte(canonAddr, '@')
	if at < 0 {
		return ""
	}
	return canonAddr[at+1:]
}
