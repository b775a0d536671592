package delivery

import (
	"time"

	"github.com/3nsoft-go/asmail-core/message"
)

// immediateSizeThreshold is the estimatedPackedSize cutoff between the
// immediate and sequential queues (§4.I).
const immediateSizeThreshold = 1 << 20 // 1 MiB

// retryBaseDelay, retryFactor, retryMaxAttempts implement the Open
// Question decision recorded in DESIGN.md: bounded exponential backoff
// for recipients that failed their WIP.
const (
	retryBaseDelay   = 5 * time.Second
	retryFactor      = 2
	retryMaxAttempts = 5
)

// AddMsgOpts carries the caller-supplied knobs for one addMsg call.
type AddMsgOpts struct {
	SendImmediately bool
	LocalMeta       map[string]interface{} // stored, never transmitted
}

// RecipientState is one recipient's slot inside a message's progress
// table.
type RecipientState struct {
	Done          bool      `json:"done"`
	BytesSent     int64     `json:"bytesSent"`
	Err           string    `json:"err,omitempty"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
}

// AllDone is the terminal aggregate state of a message's delivery.
type AllDone string

const (
	NotDone    AllDone = ""
	AllOK      AllDone = "all-ok"
	WithErrors AllDone = "with-errors"
)

// Progress is the observable, deep-cloneable snapshot of one message's
// delivery state (§4.I step 5, "Observability").
type Progress struct {
	MsgSize    int64                      `json:"msgSize"`
	Recipients map[string]RecipientState  `json:"recipients"`
	AllDone    AllDone                    `json:"allDone,omitempty"`
	Cancelled  bool                       `json:"cancelled,omitempty"`
}

// clone returns a deep copy of p, so that emitting it to observers can
// never let them mutate engine state (§4.I "Observability").
func (p Progress) clone() Progress {
	out := Progress{MsgSize: p.MsgSize, AllDone: p.AllDone, Cancelled: p.Cancelled}
	out.Recipients = make(map[string]RecipientState, len(p.Recipients))
	for k, v := range p.Recipients {
		out.Recipients[k] = v
	}
	return out
}

// isDone reports whether every recipient slot is Done, and if so
// whether the aggregate is all-ok or with-errors.
func (p Progress) isDone() (done bool, aggregate AllDone) {
	if len(p.Recipients) == 0 {
		return false, NotDone
	}
	hasErr := false
	for _, r := range p.Recipients {
		if !r.Done {
			return false, NotDone
		}
		if r.Err != "" {
			hasErr = true
		}
	}
	if hasErr {
		return true, WithErrors
	}
	return true, AllOK
}

// wipStage names where a recipient's work-in-progress last checkpointed.
type wipStage string

const (
	stagePreflight wipStage = "preflight"
	stageSession   wipStage = "session"
	stagePushMain  wipStage = "pushMain"
	stagePushAttch wipStage = "pushAttachment"
	stageFinalize  wipStage = "finalize"
)

// WIP is one recipient's resumable checkpoint, persisted to wips.json
// after every successful chunk so a restart can rebuild the sender
// from the last offset (§4.I step 3).
type WIP struct {
	Stage           wipStage `json:"stage"`
	SessionID       string   `json:"sessionId,omitempty"`
	NextAttachment  int      `json:"nextAttachment"`
	MaxMsgLength    int64    `json:"maxMsgLength,omitempty"`
	AuthSenderBound bool     `json:"authSenderBound,omitempty"`
}

// RecipientEnvelope pairs a recipient address with the per-recipient
// envelope SealForRecipient produced for it.
type RecipientEnvelope struct {
	Address  string
	Envelope *message.Envelope
}

// StoredMsg is everything the engine needs to resume sending a message
// across a restart: the shared object graph and each recipient's own
// sealed envelope (§4.I "Restart protocol").
type StoredMsg struct {
	ID         string
	Recipients []RecipientEnvelope
	Content    *message.PackedContent
	Opts       AddMsgOpts
}
