package asmailconfig

// Param enumerates the closed set of names /param/<name> accepts (§4.K).
// Using a constant-constructed type rather than a bare string keeps an
// unknown name a compile-time mistake everywhere but at the one
// boundary (decoding a path segment off the wire) where validate must
// still catch it explicitly.
type Param string

const (
	ParamInitPubKey          Param = "init-pub-key"
	ParamAuthSenderPolicy    Param = "auth-sender/policy"
	ParamAuthSenderWhitelist Param = "auth-sender/whitelist"
	ParamAuthSenderBlacklist Param = "auth-sender/blacklist"
	ParamAuthSenderInvites   Param = "auth-sender/invites"
	ParamAnonSenderPolicy    Param = "anon-sender/policy"
	ParamAnonSenderInvites   Param = "anon-sender/invites"
)

var knownParams = map[Param]bool{
	ParamInitPubKey:          true,
	ParamAuthSenderPolicy:    true,
	ParamAuthSenderWhitelist: true,
	ParamAuthSenderBlacklist: true,
	ParamAuthSenderInvites:   true,
	ParamAnonSenderPolicy:    true,
	ParamAnonSenderInvites:   true,
}

// validate rejects any Param not in the enumerated set; reaching it
// would be a programmer error (§4.K "unknown parameter names are a
// programmer error"), e.g. a hand-built Param("typo-name") bypassing
// the exported constants.
func validate(p Param) error {
	if !knownParams[p] {
		return errf(KindUnknownParam, "%q", string(p))
	}
	return nil
}
