package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/message"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xspfs"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// AllDeliveriesEvent is one snapshot emitted on the engine-wide
// observability channel (§4.I "Observability").
type AllDeliveriesEvent struct {
	ID       string
	Progress Progress
}

// msgRun is a message's live, in-memory scheduling state.
type msgRun struct {
	mu        sync.Mutex
	id        string
	stored    StoredMsg
	progress  Progress
	wips      map[string]WIP
	cancelled bool
	inFlight  sync.WaitGroup // tracks recipients currently mid-chunk, for cancel to settle on
}

// Engine is the outgoing-message sending engine of §4.I: it schedules
// each addMsg onto the immediate or sequential queue, advances each
// recipient's work-in-progress with on-disk checkpointing, and retries
// failed recipients with bounded backoff.
type Engine struct {
	store     Store
	transport Transport
	container *xspfs.NodesContainer
	cryptor   xcrypto.Cryptor
	keys      *keyring.Keyring
	clock     xtime.Provider
	log       *logrus.Entry

	mu   sync.Mutex
	runs map[string]*msgRun

	seqQueue chan seqJob
	running  bool
	stopChan chan struct{}

	subsMu sync.Mutex
	subs   map[string][]chan Progress
	allSub []chan AllDeliveriesEvent
}

type seqJob struct {
	id    string
	addrs []string // nil means "every not-done recipient, in order"
}

// NewEngine builds an Engine. clock may be nil to use xtime.Default().
func NewEngine(store Store, transport Transport, container *xspfs.NodesContainer, cryptor xcrypto.Cryptor, keys *keyring.Keyring, clock xtime.Provider) *Engine {
	if clock == nil {
		clock = xtime.Default()
	}
	return &Engine{
		store:     store,
		transport: transport,
		container: container,
		cryptor:   cryptor,
		keys:      keys,
		clock:     clock,
		log:       logrus.WithField("component", "delivery.engine"),
		runs:      make(map[string]*msgRun),
		seqQueue:  make(chan seqJob, 64),
		subs:      make(map[string][]chan Progress),
	}
}

// Start begins the sequential-queue worker and the retry-check ticker.
// Messages added to the immediate queue send regardless of whether
// Start has been called; the sequential queue and retries only drain
// once the engine is running (§5 "small pool of long-running tasks").
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	go e.sequentialWorker(ctx)
	go e.retryLoop(ctx)
}

// Stop halts the sequential worker and retry ticker; in-flight chunks
// are allowed to complete.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopChan)
}

// AddMsg implements §4.I step 1-2: pack the message once, seal an
// envelope per recipient, persist msg/progress, and schedule it.
func (e *Engine) AddMsg(id string, recipients []string, out message.OutgoingMessage, opts AddMsgOpts) error {
	if _, ok, _ := e.store.LoadMsg(id); ok {
		return errf(KindDuplicate, "message id %s already used", id)
	}

	content, err := message.PackContent(e.container, e.cryptor, e.clock, out)
	if err != nil {
		return err
	}

	recipientEnvelopes := make([]RecipientEnvelope, 0, len(recipients))
	for _, addr := range recipients {
		sk, err := e.keys.GenerateKeysToSend(addr)
		if err != nil {
			return err
		}
		env, err := message.SealForRecipient(content, e.cryptor, sk)
		if err != nil {
			return err
		}
		recipientEnvelopes = append(recipientEnvelopes, RecipientEnvelope{Address: addr, Envelope: env})
	}

	stored := StoredMsg{ID: id, Recipients: recipientEnvelopes, Content: content, Opts: opts}
	if err := e.store.SaveMsg(id, stored); err != nil {
		return err
	}

	size := int64(len(content.MainSegments))
	for _, a := range content.Attachments {
		size += int64(len(a.Segments))
	}
	progress := Progress{MsgSize: size, Recipients: make(map[string]RecipientState, len(recipients))}
	for _, addr := range recipients {
		progress.Recipients[addr] = RecipientState{}
	}
	if err := e.store.SaveProgress(id, progress); err != nil {
		return err
	}

	run := &msgRun{id: id, stored: stored, progress: progress, wips: make(map[string]WIP)}
	e.mu.Lock()
	e.runs[id] = run
	e.mu.Unlock()

	immediate := opts.SendImmediately || size <= immediateSizeThreshold
	e.schedule(run, immediate)
	return nil
}

func (e *Engine) schedule(run *msgRun, immediate bool) {
	if immediate {
		for _, re := range run.stored.Recipients {
			addr := re.Address
			go e.attemptRecipient(context.Background(), run, addr)
		}
		return
	}
	e.mu.Lock()
	started := e.running
	e.mu.Unlock()
	if !started {
		e.log.WithField("msgId", run.id).Warn("sequential message added before Start(); it will run once Start is called and the job is requeued")
	}
	select {
	case e.seqQueue <- seqJob{id: run.id}:
	default:
		e.log.WithField("msgId", run.id).Warn("sequential queue full, dropping schedule attempt")
	}
}

func (e *Engine) sequentialWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case job := <-e.seqQueue:
			e.runSequentialJob(ctx, job)
		}
	}
}

func (e *Engine) runSequentialJob(ctx context.Context, job seqJob) {
	e.mu.Lock()
	run, ok := e.runs[job.id]
	e.mu.Unlock()
	if !ok {
		return
	}

	addrs := job.addrs
	if addrs == nil {
		run.mu.Lock()
		for _, re := range run.stored.Recipients {
			if !run.progress.Recipients[re.Address].Done {
				addrs = append(addrs, re.Address)
			}
		}
		run.mu.Unlock()
	}
	for _, addr := range addrs {
		if e.isCancelled(run) {
			return
		}
		e.attemptRecipient(ctx, run, addr)
	}
}

func (e *Engine) isCancelled(run *msgRun) bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.cancelled
}

// Subscribe returns a channel of progress snapshots for one message.
func (e *Engine) Subscribe(id string) <-chan Progress {
	ch := make(chan Progress, 16)
	e.subsMu.Lock()
	e.subs[id] = append(e.subs[id], ch)
	e.subsMu.Unlock()
	return ch
}

// SubscribeAll returns a channel of snapshots for every message.
func (e *Engine) SubscribeAll() <-chan AllDeliveriesEvent {
	ch := make(chan AllDeliveriesEvent, 16)
	e.subsMu.Lock()
	e.allSub = append(e.allSub, ch)
	e.subsMu.Unlock()
	return ch
}

func (e *Engine) emitProgress(run *msgRun) {
	run.mu.Lock()
	snapshot := run.progress.clone()
	run.mu.Unlock()

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs[run.id] {
		select {
		case ch <- snapshot.clone():
		default:
		}
	}
	for _, ch := range e.allSub {
		select {
		case ch <- AllDeliveriesEvent{ID: run.id, Progress: snapshot.clone()}:
		default:
		}
	}
}

// GetProgress returns the current snapshot of id's delivery progress.
func (e *Engine) GetProgress(id string) (Progress, error) {
	e.mu.Lock()
	run, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		run.mu.Lock()
		defer run.mu.Unlock()
		return run.progress.clone(), nil
	}
	p, ok, err := e.store.LoadProgress(id)
	if err != nil {
		return Progress{}, err
	}
	if !ok {
		return Progress{}, errf(KindNotFound, "message %s not found", id)
	}
	return p, nil
}

// CancelSending marks id cancelled; the currently running chunk (if
// any) is allowed to finish, after which no further chunk starts
// (§5 "Cancellation / timeout").
func (e *Engine) CancelSending(id string) error {
	e.mu.Lock()
	run, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return errf(KindNotFound, "message %s not found", id)
	}
	run.mu.Lock()
	run.cancelled = true
	run.mu.Unlock()

	run.inFlight.Wait() // let any in-flight chunk finish or fail before settling

	run.mu.Lock()
	run.progress.Cancelled = true
	run.mu.Unlock()
	e.persistProgress(run)
	e.emitProgress(run)
	return nil
}

// RemoveMsg deletes id's stored message, refusing unless it is done or
// cancelSending is true (§4.I).
func (e *Engine) RemoveMsg(id string, cancelSending bool) error {
	if cancelSending {
		_ = e.CancelSending(id)
	}
	p, err := e.GetProgress(id)
	if err != nil {
		return err
	}
	done, _ := p.isDone()
	if !done && !p.Cancelled {
		return errf(KindNotDone, "message %s is not done and cancelSending was not set", id)
	}
	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()
	return e.store.RemoveMsg(id)
}

// Restart implements §4.I's restart protocol: every non-done message
// in the store is rehydrated and rescheduled.
func (e *Engine) Restart() error {
	ids, err := e.store.ListMsgIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		stored, ok, err := e.store.LoadMsg(id)
		if err != nil {
			e.log.WithError(err).WithField("msgId", id).Warn("skipping message on restart")
			continue
		}
		if !ok {
			continue
		}
		progress, ok, err := e.store.LoadProgress(id)
		if err != nil || !ok {
			e.log.WithField("msgId", id).Warn("message has no progress.json, skipping")
			continue
		}
		if done, _ := progress.isDone(); done || progress.Cancelled {
			continue
		}
		wips, _, err := e.store.LoadWIPs(id)
		if err != nil {
			wips = nil
		}
		if wips == nil {
			wips = make(map[string]WIP)
		}
		run := &msgRun{id: id, stored: stored, progress: progress, wips: wips}
		e.mu.Lock()
		e.runs[id] = run
		e.mu.Unlock()

		immediate := stored.Opts.SendImmediately || progress.MsgSize <= immediateSizeThreshold
		e.schedule(run, immediate)
	}
	return nil
}

func (e *Engine) checkpoint(run *msgRun, addr string, wip WIP) {
	run.mu.Lock()
	run.wips[addr] = wip
	snapshot := make(map[string]WIP, len(run.wips))
	for k, v := range run.wips {
		snapshot[k] = v
	}
	run.mu.Unlock()
	if err := e.store.SaveWIPs(run.id, snapshot); err != nil {
		e.log.WithError(err).WithField("msgId", run.id).Warn("failed to checkpoint wip")
	}
}

func (e *Engine) addBytesSent(run *msgRun, addr string, n int64) {
	run.mu.Lock()
	rs := run.progress.Recipients[addr]
	rs.BytesSent += n
	run.progress.Recipients[addr] = rs
	run.mu.Unlock()
	e.persistProgress(run)
	e.emitProgress(run)
}

func (e *Engine) persistProgress(run *msgRun) {
	run.mu.Lock()
	snapshot := run.progress.clone()
	run.mu.Unlock()
	if err := e.store.SaveProgress(run.id, snapshot); err != nil {
		e.log.WithError(err).WithField("msgId", run.id).Warn("failed to persist progress")
	}
}

func (e *Engine) markRecipientDone(run *msgRun, addr string) {
	run.mu.Lock()
	rs := run.progress.Recipients[addr]
	rs.Done = true
	rs.Err = ""
	run.progress.Recipients[addr] = rs
	if done, aggregate := run.progress.isDone(); done {
		run.progress.AllDone = aggregate
	}
	run.mu.Unlock()
	e.persistProgress(run)
	e.emitProgress(run)
}

func (e *Engine) failRecipient(run *msgRun, addr string, cause error) {
	run.mu.Lock()
	rs := run.progress.Recipients[addr]
	rs.Err = cause.Error()
	rs.Attempts++
	if rs.Attempts >= retryMaxAttempts {
		rs.Done = true
	} else {
		delay := retryBaseDelay
		for i := 1; i < rs.Attempts; i++ {
			delay *= retryFactor
		}
		rs.NextAttemptAt = e.clock.Now().Add(delay)
	}
	run.progress.Recipients[addr] = rs
	if done, aggregate := run.progress.isDone(); done {
		run.progress.AllDone = aggregate
	}
	run.mu.Unlock()

	e.log.WithError(cause).WithFields(logrus.Fields{"msgId": run.id, "recipient": addr}).Warn("delivery work-in-progress failed")
	e.persistProgress(run)
	e.emitProgress(run)
}

// attemptRecipient drives one recipient's WIP state machine forward
// from its last checkpoint (§4.I step 3).
func (e *Engine) attemptRecipient(ctx context.Context, run *msgRun, addr string) {
	run.inFlight.Add(1)
	defer run.inFlight.Done()

	run.mu.Lock()
	if run.cancelled {
		run.mu.Unlock()
		return
	}
	if run.progress.Recipients[addr].Done {
		run.mu.Unlock()
		return
	}
	wip := run.wips[addr]
	var env *message.Envelope
	for _, re := range run.stored.Recipients {
		if re.Address == addr {
			env = re.Envelope
			break
		}
	}
	content := run.stored.Content
	run.mu.Unlock()
	if env == nil {
		e.failRecipient(run, addr, errf(KindNotFound, "no envelope for recipient %s", addr))
		return
	}

	if wip.Stage == "" {
		pre, err := e.transport.PreFlight(ctx, addr)
		if err != nil {
			e.failRecipient(run, addr, err)
			return
		}
		wip.MaxMsgLength = pre.MaxMsgLength
		wip.AuthSenderBound = pre.AuthSenderBound
		wip.Stage = stagePreflight
		e.checkpoint(run, addr, wip)
	}

	if e.isCancelled(run) {
		return
	}

	if wip.Stage == stagePreflight {
		sessionID, err := e.transport.StartSession(ctx, addr, content.MainObjID, RecipientEnvelope{Address: addr, Envelope: env})
		if err != nil {
			e.failRecipient(run, addr, err)
			return
		}
		wip.SessionID = sessionID
		wip.Stage = stageSession
		e.checkpoint(run, addr, wip)
	}

	if e.isCancelled(run) {
		return
	}

	if wip.Stage == stageSession {
		if err := e.transport.PushMain(ctx, wip.SessionID, content.MainHeader, content.MainSegments); err != nil {
			e.failRecipient(run, addr, err)
			return
		}
		e.addBytesSent(run, addr, int64(len(content.MainSegments)))
		wip.Stage = stagePushMain
		e.checkpoint(run, addr, wip)
	}

	for wip.Stage == stagePushMain || wip.Stage == stagePushAttch {
		if wip.NextAttachment >= len(content.Attachments) {
			break
		}
		if e.isCancelled(run) {
			return
		}
		att := content.Attachments[wip.NextAttachment]
		if err := e.transport.PushAttachment(ctx, wip.SessionID, att.ObjID, att.Header, att.Segments); err != nil {
			e.failRecipient(run, addr, err)
			return
		}
		e.addBytesSent(run, addr, int64(len(att.Segments)))
		wip.NextAttachment++
		wip.Stage = stagePushAttch
		e.checkpoint(run, addr, wip)
	}

	if e.isCancelled(run) {
		return
	}

	if err := e.transport.Finalize(ctx, wip.SessionID); err != nil {
		e.failRecipient(run, addr, err)
		return
	}
	wip.Stage = stageFinalize
	e.checkpoint(run, addr, wip)
	e.markRecipientDone(run, addr)
}

// retryLoop periodically calls CheckRetries until stopped.
func (e *Engine) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(retryBaseDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.CheckRetries()
		}
	}
}

// CheckRetries requeues every recipient whose backoff has elapsed onto
// the sequential queue, per the DESIGN.md open-question decision that
// retries always take the sequential path rather than the immediate
// one.
func (e *Engine) CheckRetries() {
	now := e.clock.Now()
	e.mu.Lock()
	runs := make([]*msgRun, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, run := range runs {
		run.mu.Lock()
		if run.cancelled {
			run.mu.Unlock()
			continue
		}
		var due []string
		for addr, rs := range run.progress.Recipients {
			if rs.Done || rs.Err == "" {
				continue
			}
			if rs.Attempts >= retryMaxAttempts {
				continue
			}
			if !rs.NextAttemptAt.IsZero() && now.Before(rs.NextAttemptAt) {
				continue
			}
			due = append(due, addr)
		}
		run.mu.Unlock()
		if len(due) == 0 {
			continue
		}
		select {
		case e.seqQueue <- seqJob{id: run.id, addrs: due}:
		default:
			e.log.WithField("msgId", run.id).Warn("sequential queue full, retry deferred to next tick")
		}
	}
}
