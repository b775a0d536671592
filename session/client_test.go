package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/xcrypto"
)

func testSigner(t *testing.T) *mailerid.Signer {
	t.Helper()
	kp, err := xcrypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	return mailerid.NewSigner("alice@example.com", kp, "kid-1", mailerid.Chain{}, time.Now().Add(24*time.Hour), nil)
}

type scriptedTransport struct {
	calls     []Request
	responses []Response
}

func (s *scriptedTransport) Do(req Request) (Response, error) {
	s.calls = append(s.calls, req)
	idx := len(s.calls) - 1
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return s.responses[len(s.responses)-1], nil
}

func TestClientLoginsThenIssuesRequest(t *testing.T) {
	transport := &scriptedTransport{
		responses: []Response{
			jsonResponse(startSessionResponse{SessionID: "S1"}),
			{StatusCode: 200},
			{StatusCode: 200, Body: []byte(`{"ok":true}`)},
		},
	}
	c := New("https://mid.example.com/login", "https://rp.example.com", "rp.example.com", "alice@example.com", testSigner(t), transport)

	resp, err := c.Do("GET", "/status", nil)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Len(t, transport.calls, 3)
	require.Equal(t, "https://mid.example.com/login/start-session", transport.calls[0].URL)
	require.Equal(t, "https://mid.example.com/login/authorize-session", transport.calls[1].URL)
	require.Equal(t, "https://rp.example.com/status", transport.calls[2].URL)
	require.Equal(t, "S1", transport.calls[2].Headers["X-Session-Id"])
}

func TestClientReLoginsOnceOnNeedAuth(t *testing.T) {
	transport := &scriptedTransport{
		responses: []Response{
			jsonResponse(startSessionResponse{SessionID: "S1"}),
			{StatusCode: 200},
			{StatusCode: 401},
			jsonResponse(startSessionResponse{SessionID: "S2"}),
			{StatusCode: 200},
			{StatusCode: 200, Body: []byte(`{"ok":true}`)},
		},
	}
	c := New("https://mid.example.com/login", "https://rp.example.com", "rp.example.com", "alice@example.com", testSigner(t), transport)

	resp, err := c.Do("GET", "/status", nil)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "S2", transport.calls[5].Headers["X-Session-Id"])
}

func TestClientRefusesSecondLoginRedirect(t *testing.T) {
	transport := &scriptedTransport{
		responses: []Response{
			jsonResponse(startSessionResponse{Redirect: "https://mid2.example.com/login"}),
			jsonResponse(startSessionResponse{Redirect: "https://mid3.example.com/login"}),
		},
	}
	c := New("https://mid.example.com/login", "https://rp.example.com", "rp.example.com", "alice@example.com", testSigner(t), transport)

	_, err := c.Do("GET", "/status", nil)
	require.Error(t, err)
	sessErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindTooManyRedirects, sessErr.Kind)
}

func jsonResponse(v interface{}) Response {
	b, _ := json.Marshal(v)
	return Response{StatusCode: 200, Body: b}
}
