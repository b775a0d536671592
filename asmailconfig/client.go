package asmailconfig

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// IntroKeyCertValidity is how long a freshly published introductory key
// generation's certificate is valid for before a Rotator (§4.G) must
// replace it.
const IntroKeyCertValidity = 90 * 24 * time.Hour

// Doer issues one authenticated request against our own ASMail config
// service; a one-line adapter wraps session.Client.Do's identically-
// shaped (session.Response, error) return into this package's own
// Response so asmailconfig need not import session just to name it.
type Doer interface {
	Do(method, path string, body []byte) (Response, error)
}

// Response mirrors session.Response's shape.
type Response struct {
	StatusCode int
	Body       []byte
}

// wireIntroKeyGen is the wire shape of one generation of a published
// introductory key: a certificate over the box public key signed by the
// publisher's MailerId ephemeral key, plus the chain a reader needs to
// verify that signer without a separate MailerId lookup.
type wireIntroKeyGen struct {
	Kid       string              `json:"kid"`
	Cert      mailerid.SignedLoad `json:"cert"`
	Chain     mailerid.Chain      `json:"chain"`
	CreatedAt time.Time           `json:"createdAt"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// wireIntroKey is the JSON value of the init-pub-key param: the current
// generation plus previous ones kept around so a sender mid-rotation can
// still be understood.
type wireIntroKey struct {
	Current  *wireIntroKeyGen  `json:"current,omitempty"`
	Previous []wireIntroKeyGen `json:"previous,omitempty"`
}

// wireInvite is one labeled entry of the anon-sender/invites param: a
// token an anonymous sender presents to be accepted without a prior
// whitelist entry (§4.L).
type wireInvite struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client is the authenticated REST client over our own /param/<name>
// (§4.K). A real embedder resolves its serviceURL via locator.Locate
// plus the ASMail service root document's "config" path, and backs its
// Doer with session.Client.Do.
type Client struct {
	doer   Doer
	signer *mailerid.Signer
	clock  xtime.Provider
}

// New builds a Client. signer is used only by CertifyAndPublish, and may
// be nil for a caller that only reads/writes the other enumerated
// parameters.
func New(doer Doer, signer *mailerid.Signer, clock xtime.Provider) *Client {
	if clock == nil {
		clock = xtime.Default()
	}
	return &Client{doer: doer, signer: signer, clock: clock}
}

// GetParam issues GET /param/<name>. A null JSON response (the param is
// unset) is reported as ok=false with no error.
func (c *Client) GetParam(name Param) (value json.RawMessage, ok bool, err error) {
	if err := validate(name); err != nil {
		return nil, false, err
	}
	resp, err := c.doer.Do("GET", "/param/"+string(name), nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != 0 && resp.StatusCode >= 300 {
		return nil, false, errf(KindBadResponse, "GET /param/%s: status %d", name, resp.StatusCode)
	}
	if len(resp.Body) == 0 || string(resp.Body) == "null" {
		return nil, false, nil
	}
	return json.RawMessage(resp.Body), true, nil
}

// PutParam issues PUT /param/<name>. value == nil encodes a JSON null
// body, which the service treats as a request to delete the parameter.
func (c *Client) PutParam(name Param, value json.RawMessage) error {
	if err := validate(name); err != nil {
		return err
	}
	body := []byte("null")
	if value != nil {
		body = value
	}
	resp, err := c.doer.Do("PUT", "/param/"+string(name), body)
	if err != nil {
		return err
	}
	if resp.StatusCode != 0 && resp.StatusCode >= 300 {
		return errf(KindBadResponse, "PUT /param/%s: status %d", name, resp.StatusCode)
	}
	return nil
}

// CertifyAndPublish implements keyring.IntroKeyPublisher: it certifies
// pub under the signer's MailerId chain, merges it into the current
// init-pub-key generation (demoting the previous current into history),
// and PUTs the result.
func (c *Client) CertifyAndPublish(pub [32]byte) (kid string, certChain []byte, expiresAt time.Time, err error) {
	if c.signer == nil {
		return "", nil, time.Time{}, errf(KindBadResponse, "no signer configured for CertifyAndPublish")
	}

	kid = mailerid.NewKid()
	now := c.clock.Now()
	expiresAt = now.Add(IntroKeyCertValidity)

	jwkey := mailerid.JWKey{Alg: "Curve25519", Use: "intro", Kid: kid, K: append([]byte{}, pub[:]...)}
	sl, err := c.signer.CertifyPublicKey(jwkey, IntroKeyCertValidity)
	if err != nil {
		return "", nil, time.Time{}, err
	}
	gen := wireIntroKeyGen{Kid: kid, Cert: sl, Chain: c.signer.Chain(), CreatedAt: now, ExpiresAt: expiresAt}

	existing, ok, err := c.GetParam(ParamInitPubKey)
	if err != nil {
		return "", nil, time.Time{}, err
	}
	var doc wireIntroKey
	if ok {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return "", nil, time.Time{}, errf(KindBadResponse, "malformed existing init-pub-key: %v", err)
		}
	}
	if doc.Current != nil {
		doc.Previous = append([]wireIntroKeyGen{*doc.Current}, doc.Previous...)
	}
	doc.Current = &gen

	genBytes, err := json.Marshal(gen)
	if err != nil {
		return "", nil, time.Time{}, err
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return "", nil, time.Time{}, err
	}
	if err := c.PutParam(ParamInitPubKey, docBytes); err != nil {
		return "", nil, time.Time{}, err
	}
	return kid, genBytes, expiresAt, nil
}

// PublishInvite implements sendingparams.InvitePublisher: it mints a
// fresh anonymous-sender invite token and merges it under label into the
// anon-sender/invites param, read-modify-write the same way
// CertifyAndPublish merges init-pub-key generations.
func (c *Client) PublishInvite(ctx context.Context, label string) (string, error) {
	existing, ok, err := c.GetParam(ParamAnonSenderInvites)
	if err != nil {
		return "", err
	}
	table := make(map[string]wireInvite)
	if ok {
		if err := json.Unmarshal(existing, &table); err != nil {
			return "", errf(KindBadResponse, "malformed existing anon-sender/invites: %v", err)
		}
	}
	token := uuid.NewString()
	table[label] = wireInvite{Token: token, CreatedAt: c.clock.Now()}

	tableBytes, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	if err := c.PutParam(ParamAnonSenderInvites, tableBytes); err != nil {
		return "", err
	}
	return token, nil
}
