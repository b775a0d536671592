package session

import (
	"encoding/json"
	"sync"

	"github.com/3nsoft-go/asmail-core/mailerid"
)

// maxLoginRedirects bounds login-start redirects to exactly one
// (§4.B "follows at most one redirect on login-start").
const maxLoginRedirects = 1

type startSessionRequest struct {
	UserID string `json:"userId"`
	Kid    string `json:"kid,omitempty"`
}

type startSessionResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	Redirect  string `json:"redirect,omitempty"`
}

// Client is a reusable authenticated session wrapper for one relying
// party: it keeps a session id for the service's base URL, transparently
// re-logs in once on a needAuth response, and refuses a second login
// redirect (§4.B).
type Client struct {
	userAddress string
	rpDomain    string
	loginURL    string
	serviceURL  string
	signer      *mailerid.Signer
	transport   Transport

	mu        sync.Mutex
	sessionID string
}

// New builds a Client. loginURL is the MailerId login base
// (`<login>/start-session`, `<login>/authorize-session`); serviceURL is
// the relying party's base URL that ordinary Do calls are issued
// against; rpDomain is serviceURL's host, asserted into the signed
// assertion.
func New(loginURL, serviceURL, rpDomain, userAddress string, signer *mailerid.Signer, transport Transport) *Client {
	return &Client{
		userAddress: userAddress,
		rpDomain:    rpDomain,
		loginURL:    loginURL,
		serviceURL:  serviceURL,
		signer:      signer,
		transport:   transport,
	}
}

// login runs the two-step MailerId login exchange, following at most
// one redirect on start-session.
func (c *Client) login() error {
	return c.loginFrom(c.loginURL, 0)
}

func (c *Client) loginFrom(loginURL string, redirectsUsed int) error {
	startBody, err := json.Marshal(startSessionRequest{UserID: c.userAddress, Kid: c.signer.Kid()})
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(Request{Method: "POST", URL: loginURL + "/start-session", Body: startBody})
	if err != nil {
		return err
	}
	var start startSessionResponse
	if err := json.Unmarshal(resp.Body, &start); err != nil {
		return errf(KindAuthFailed, "malformed start-session response: %v", err)
	}
	if start.Redirect != "" {
		if redirectsUsed >= maxLoginRedirects {
			return errf(KindTooManyRedirects, "login-start redirected more than once")
		}
		return c.loginFrom(start.Redirect, redirectsUsed+1)
	}
	if start.SessionID == "" {
		return errf(KindAuthFailed, "start-session returned neither sessionId nor redirect")
	}

	assertion, err := c.signer.GenerateAssertionFor(c.rpDomain, start.SessionID, 0)
	if err != nil {
		return err
	}
	assertionBody, err := json.Marshal(assertion)
	if err != nil {
		return err
	}
	authResp, err := c.transport.Do(Request{Method: "POST", URL: loginURL + "/authorize-session", Body: assertionBody})
	if err != nil {
		return err
	}
	if authResp.StatusCode != 0 && authResp.StatusCode >= 300 {
		return errf(KindAuthFailed, "authorize-session rejected (status %d)", authResp.StatusCode)
	}

	c.sessionID = start.SessionID
	return nil
}

// Do issues an authenticated request against the relying party,
// logging in first if there is no session yet and transparently
// re-logging in exactly once if the service reports needAuth.
func (c *Client) Do(method, path string, body []byte) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		if err := c.login(); err != nil {
			return Response{}, err
		}
	}

	resp, err := c.doWithSession(method, path, body)
	if err != nil {
		return Response{}, err
	}
	if !resp.NeedsAuth() {
		return resp, nil
	}

	c.sessionID = ""
	if err := c.login(); err != nil {
		return Response{}, errf(KindAuthFailed, "re-login failed: %v", err)
	}
	resp, err = c.doWithSession(method, path, body)
	if err != nil {
		return Response{}, err
	}
	if resp.NeedsAuth() {
		return Response{}, errf(KindAuthFailed, "still unauthenticated after one re-login")
	}
	return resp, nil
}

func (c *Client) doWithSession(method, path string, body []byte) (Response, error) {
	return c.transport.Do(Request{
		Method:  method,
		URL:     c.serviceURL + path,
		Headers: map[string]string{"X-Session-Id": c.sessionID},
		Body:    body,
	})
}

// Logout invalidates the current session, if any.
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return nil
	}
	_, err := c.transport.Do(Request{Method: "POST", URL: c.loginURL + "/logout", Headers: map[string]string{"X-Session-Id": c.sessionID}})
	c.sessionID = ""
	return err
}
