package sendingparams

import "time"

// DefaultInviteLabel names the anonymous invite own-params falls back
// to suggesting when a correspondent address has no params of its own
// yet (§4.L "Default params are sourced from the anonymous-invites
// table").
const DefaultInviteLabel = "default"

// ParamSet is one timestamped snapshot of the params a sender presents
// to one correspondent's delivery service: the invite token offered at
// pre-flight, and the auth-sender binding the peer's server confirmed
// for us (§4.I PreFlightResult.AuthSenderBound echoes this back).
type ParamSet struct {
	Timestamp  time.Time `json:"timestamp"`
	Invitation string    `json:"invitation,omitempty"`
	Auth       string    `json:"auth,omitempty"`
}

// OwnParams is one correspondent's row in own-params.json: a suggested
// set offered on first contact, promoted to InUse once the peer echoes
// the invite back via MarkInviteUsed.
type OwnParams struct {
	Suggested *ParamSet `json:"suggested,omitempty"`
	InUse     *ParamSet `json:"inUse,omitempty"`
}

// OthersParams is one correspondent's row in params-from-others.json:
// the forwarding hint they left in their last message, kept under
// last-writer-by-timestamp-wins.
type OthersParams struct {
	Timestamp  time.Time `json:"timestamp"`
	IntroKeyID string    `json:"introKeyId,omitempty"`
	ServiceURL string    `json:"serviceUrl,omitempty"`
}

// AnonymousInvite is one labeled invite token this user has published
// for anonymous senders, persisted in anonymous-invites.json.
type AnonymousInvite struct {
	Label     string    `json:"label"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}
