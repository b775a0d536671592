package delivery

import "context"

// PreFlightResult is what a pre-flight probe against a recipient's
// ASMail delivery endpoint returns (§4.I step 3a).
type PreFlightResult struct {
	MaxMsgLength    int64
	AuthSenderBound bool
}

// Transport is the narrow, out-of-scope collaborator for the ASMail
// delivery wire protocol (§1 places HTTP/WebSocket plumbing outside
// this core), mirroring session.Transport's and locator.Resolver's
// "core only consumes an interface" shape.
type Transport interface {
	// PreFlight queries maxMsgLength and whether the recipient's
	// service will bind authSender for this sender.
	PreFlight(ctx context.Context, recipientAddr string) (PreFlightResult, error)
	// StartSession opens a delivery session for one message to one
	// recipient, returning an opaque session id.
	StartSession(ctx context.Context, recipientAddr, msgObjID string, env RecipientEnvelope) (sessionID string, err error)
	// PushMain uploads the message's main object header and segments.
	PushMain(ctx context.Context, sessionID string, header, segments []byte) error
	// PushAttachment uploads one sibling object in folder-table order.
	PushAttachment(ctx context.Context, sessionID, objID string, header, segments []byte) error
	// Finalize completes the session, making the message visible to
	// the recipient.
	Finalize(ctx context.Context, sessionID string) error
}
