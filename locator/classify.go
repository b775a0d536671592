package locator

import (
	"errors"
	"fmt"
	"net"
)

func errUnknownKind(k Kind) error {
	return fmt.Errorf("locator: unknown service kind %q", k)
}

// classify maps a Resolver error to the locator's failure taxonomy.
// *net.DNSError (as returned by *net.Resolver, and expected from any
// well-behaved custom Resolver) distinguishes NXDOMAIN-shaped failures
// from connectivity failures via IsNotFound/Timeout.
func classify(domain string, err error) *Error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return &Error{Kind: ErrDomainNotFound, Domain: domain, Err: err}
		}
		return &Error{Kind: ErrDNSConnect, Domain: domain, Err: err}
	}
	return &Error{Kind: ErrDNSConnect, Domain: domain, Err: err}
}
