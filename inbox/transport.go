package inbox

import (
	"context"
	"time"

	"github.com/3nsoft-go/asmail-core/objcache"
)

// Transport is the narrow, out-of-scope collaborator for the ASMail
// retrieval protocol (§1 places HTTP/WebSocket plumbing outside this
// core), mirroring delivery.Transport's shape for the receiving side.
type Transport interface {
	// Subscribe opens the persistent event channel. onStatus is called
	// with connected=true on every successful (re)connect and
	// connected=false the moment the channel drops, so the engine can
	// record disconnectedAt for the missed-event recovery window.
	Subscribe(ctx context.Context, onStatus func(connected bool, at time.Time)) (<-chan Event, error)
	// FetchMeta returns msgID's server metadata and the object id of its
	// main (header-first) object.
	FetchMeta(ctx context.Context, msgID string) (meta objcache.MsgMeta, mainObjID string, err error)
	// FetchHeader returns msgID's delivery envelope.
	FetchHeader(ctx context.Context, msgID string) (InboundHeader, error)
	// ListServerMsgIDs lists message ids delivered at or after sinceTS,
	// for reconciliation (listMsgs) and missed-event recovery.
	ListServerMsgIDs(ctx context.Context, sinceTS time.Time) ([]string, error)
	// DeleteOnServer best-effort deletes msgID server-side.
	DeleteOnServer(ctx context.Context, msgID string) error
}
