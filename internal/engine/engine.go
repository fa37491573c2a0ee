// Package engine runs the moderation pipeline: normalize incoming
// platform events, classify them through the gateway, fold verdicts into
// the trust ledger and dispatch whatever enforcement the trust machine
// calls for. Events are processed in arrival order per user; events for
// different users proceed independently.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/classifier"
	"github.com/warden/backend/internal/dispatcher"
	"github.com/warden/backend/internal/models"
	"github.com/warden/backend/internal/normalizer"
	"github.com/warden/backend/internal/trust"
)

// StatSink persists engine counters across restarts; optional. Satisfied
// by cache.RedisClient.
type StatSink interface {
	IncrStat(name string) error
	GetStat(name string) (int64, error)
}

type Config struct {
	// QueueDepth bounds each user's pending-event queue. When a user's
	// queue is full the oldest queued event is dropped; newest events win
	// because they supersede older ones anyway.
	QueueDepth int
	// FeedChannel carries tier-change notifications to live operator feeds.
	FeedChannel string
}

type job struct {
	evt models.BehaviorEvent
	seq uint64
}

type userQueue struct {
	mu      sync.Mutex
	pending []job
	running bool
}

type Engine struct {
	gateway    *classifier.Gateway
	ledger     *trust.Ledger
	machine    *trust.Machine
	dispatcher *dispatcher.Dispatcher
	feed       dispatcher.FeedPublisher
	sink       StatSink
	cfg        Config

	mu     sync.Mutex
	queues map[uuid.UUID]*userQueue
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	eventsProcessed atomic.Int64
	eventsDropped   atomic.Int64
	verdictsApplied atomic.Int64
	verdictsStale   atomic.Int64
	degradedCount   atomic.Int64
	actionsIssued   atomic.Int64
}

func New(
	gateway *classifier.Gateway,
	ledger *trust.Ledger,
	machine *trust.Machine,
	disp *dispatcher.Dispatcher,
	feed dispatcher.FeedPublisher,
	sink StatSink,
	cfg Config,
) *Engine {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		gateway:    gateway,
		ledger:     ledger,
		machine:    machine,
		dispatcher: disp,
		feed:       feed,
		sink:       sink,
		cfg:        cfg,
		queues:     make(map[uuid.UUID]*userQueue),
		ctx:        ctx,
		cancel:     cancel,
	}
	if sink != nil {
		e.restore()
	}
	return e
}

// restore seeds the in-memory counters from the sink so stats carry
// across restarts.
func (e *Engine) restore() {
	load := func(name string, c *atomic.Int64) {
		v, err := e.sink.GetStat(name)
		if err != nil {
			log.Printf("Failed to read stat %s: %v", name, err)
			return
		}
		c.Store(v)
	}
	load("events_processed", &e.eventsProcessed)
	load("events_dropped", &e.eventsDropped)
	load("verdicts_applied", &e.verdictsApplied)
	load("verdicts_stale", &e.verdictsStale)
	load("degraded", &e.degradedCount)
	load("actions_issued", &e.actionsIssued)
}

// Close stops in-flight work and waits for the per-user workers to drain.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Handle ingests one raw platform event. It never blocks on
// classification: the event is normalized, sequenced and queued for the
// user's worker.
func (e *Engine) Handle(raw models.RawEvent) {
	evt := normalizer.Normalize(raw)
	if evt.Kind == models.KindUnknown {
		e.drop(evt.UserID, "unrecognized event kind")
		return
	}
	if evt.UserID == uuid.Nil {
		e.drop(evt.UserID, "missing user attribution")
		return
	}

	// Sequence at arrival: a verdict is only applied while its sequence
	// is still the user's latest, so rapid-fire events supersede the
	// classifications of their predecessors.
	seq := e.gateway.Observe(evt.UserID)
	e.enqueue(evt.UserID, job{evt: evt, seq: seq})
}

func (e *Engine) enqueue(userID uuid.UUID, j job) {
	e.mu.Lock()
	uq, ok := e.queues[userID]
	if !ok {
		uq = &userQueue{}
		e.queues[userID] = uq
	}
	e.mu.Unlock()

	uq.mu.Lock()
	if len(uq.pending) >= e.cfg.QueueDepth {
		// Shed the oldest queued event; its verdict would be discarded as
		// stale regardless.
		uq.pending = uq.pending[1:]
		e.eventsDropped.Add(1)
		e.incr("events_dropped")
	}
	uq.pending = append(uq.pending, j)
	start := !uq.running
	if start {
		uq.running = true
	}
	uq.mu.Unlock()

	if start {
		e.wg.Add(1)
		go e.work(userID, uq)
	}
}

// work drains a single user's queue, one event at a time. Per-user
// serialization is what makes ledger updates ordered without a global
// lock.
func (e *Engine) work(userID uuid.UUID, uq *userQueue) {
	defer e.wg.Done()
	for {
		uq.mu.Lock()
		if len(uq.pending) == 0 {
			uq.running = false
			uq.mu.Unlock()
			return
		}
		j := uq.pending[0]
		uq.pending = uq.pending[1:]
		uq.mu.Unlock()

		if e.ctx.Err() != nil {
			return
		}
		e.process(j)
	}
}

func (e *Engine) process(j job) {
	userID := j.evt.UserID

	if !e.gateway.IsLatest(userID, j.seq) {
		e.verdictsStale.Add(1)
		e.incr("verdicts_stale")
		return
	}

	verdict, err := e.gateway.Classify(e.ctx, j.evt)
	if err != nil {
		if errors.Is(err, classifier.ErrClassifierUnavailable) {
			log.Printf("Classifier unavailable, applying degraded verdict for user %s: %v", userID, err)
		} else {
			log.Printf("Classification failed for user %s: %v", userID, err)
		}
	}
	if verdict == nil {
		return
	}
	if verdict.Degraded {
		e.degradedCount.Add(1)
		e.incr("degraded")
	}

	// Re-check after the (possibly slow) external call; a newer event for
	// this user makes this verdict stale.
	if !e.gateway.IsLatest(userID, j.seq) {
		e.verdictsStale.Add(1)
		e.incr("verdicts_stale")
		return
	}

	var intent *models.ActionIntent
	var tierFrom, tierTo models.Tier
	rec, err := e.ledger.Update(userID, func(rec *models.TrustRecord) (*models.TrustHistoryEntry, error) {
		tierFrom = rec.Tier
		intent = e.machine.Apply(rec, verdict)
		tierTo = rec.Tier
		h := rec.History[len(rec.History)-1]
		return &h, nil
	})
	if err != nil {
		log.Printf("Failed to apply verdict for user %s: %v", userID, err)
		return
	}

	e.eventsProcessed.Add(1)
	e.verdictsApplied.Add(1)
	e.incr("events_processed")
	e.incr("verdicts_applied")

	if tierTo != tierFrom {
		e.publishTierChange(rec, tierFrom, tierTo, verdict)
	}

	if intent != nil {
		e.actionsIssued.Add(1)
		e.incr("actions_issued")
		if err := e.dispatcher.Dispatch(e.ctx, intent); err != nil {
			log.Printf("Enforcement %s for user %s failed: %v", intent.Action, userID, err)
		}
	}
}

func (e *Engine) publishTierChange(rec *models.TrustRecord, from, to models.Tier, verdict *models.RiskVerdict) {
	if e.feed == nil {
		return
	}
	msg := &models.FeedMessage{
		Event: models.FeedTierChange,
		Payload: models.TierChangePayload{
			Record:  *rec,
			From:    from,
			To:      to,
			Verdict: verdict,
		},
	}
	if err := e.feed.PublishAudit(e.cfg.FeedChannel, msg); err != nil {
		log.Printf("Failed to publish tier change: %v", err)
	}
}

// Counters returns the engine's pipeline counters for the stats query.
func (e *Engine) Counters() models.EngineStats {
	return models.EngineStats{
		EventsProcessed: e.eventsProcessed.Load(),
		EventsDropped:   e.eventsDropped.Load(),
		VerdictsApplied: e.verdictsApplied.Load(),
		VerdictsStale:   e.verdictsStale.Load(),
		DegradedCount:   e.degradedCount.Load(),
	}
}

func (e *Engine) drop(userID uuid.UUID, reason string) {
	log.Printf("Dropping event from user %s: %s", userID, reason)
	e.eventsDropped.Add(1)
	e.incr("events_dropped")
}

func (e *Engine) incr(name string) {
	if e.sink == nil {
		return
	}
	if err := e.sink.IncrStat(name); err != nil {
		log.Printf("Failed to increment stat %s: %v", name, err)
	}
}
