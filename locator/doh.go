package locator

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/miekg/dns"
)

// HTTPDoer is the minimal surface this package needs from an HTTP
// client; *http.Client satisfies it. The actual HTTP transport is an
// out-of-scope collaborator per spec §1 — this package only shapes the
// DNS-over-HTTPS request/response using github.com/miekg/dns and hands
// the round trip to whatever HTTPDoer the embedder supplies.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoHResolver implements Resolver as a DNS-over-HTTPS query using the
// RFC 8484 GET form with a base64url "dns" query parameter, built with
// github.com/miekg/dns for wire-format correctness.
type DoHResolver struct {
	Endpoint string // e.g. "https://dns.example/dns-query"
	Client   HTTPDoer
}

var _ Resolver = (*DoHResolver)(nil)

// LookupTXT implements Resolver.
func (d *DoHResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
	msg.Id = dns.Id()

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("locator: packing DoH query: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(packed)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint+"?dns="+encoded, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-message")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, fmt.Errorf("locator: unpacking DoH reply: %w", err)
	}
	if reply.Rcode == dns.RcodeNameError {
		return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}

	var txts []string
	for _, rr := range reply.Answer {
		if t, ok := rr.(*dns.TXT); ok {
			for _, s := range t.Txt {
				txts = append(txts, s)
			}
		}
	}
	return txts, nil
}
