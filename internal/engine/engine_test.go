package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/classifier"
	"github.com/warden/backend/internal/dispatcher"
	"github.com/warden/backend/internal/models"
	"github.com/warden/backend/internal/trust"
)

type scriptedService struct {
	mu      sync.Mutex
	calls   int
	results []classifier.Classification
	err     error
	entered chan struct{}
	release chan struct{}
}

func (s *scriptedService) Classify(ctx context.Context, content, channelContext string) (*classifier.Classification, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, classifier.ErrTimeout
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	res := s.results[(n-1)%len(s.results)]
	return &res, nil
}

func (s *scriptedService) ExtractIntent(ctx context.Context, text string) (*classifier.ExtractedIntent, error) {
	return &classifier.ExtractedIntent{Op: "unknown"}, nil
}

func (s *scriptedService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPlatform struct {
	mu    sync.Mutex
	calls []models.ActionType
}

func (p *recordingPlatform) ExecuteAction(ctx context.Context, userID uuid.UUID, action models.ActionType, duration time.Duration, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, action)
	return nil
}

func (p *recordingPlatform) actions() []models.ActionType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ActionType(nil), p.calls...)
}

type memorySink struct {
	mu    sync.Mutex
	stats map[string]int64
}

func newMemorySink() *memorySink {
	return &memorySink{stats: make(map[string]int64)}
}

func (s *memorySink) IncrStat(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name]++
	return nil
}

func (s *memorySink) GetStat(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[name], nil
}

type testRig struct {
	engine   *Engine
	ledger   *trust.Ledger
	service  *scriptedService
	platform *recordingPlatform
}

func newTestRig(t *testing.T, svc *scriptedService, cfg Config) *testRig {
	t.Helper()
	machine := trust.NewMachine(trust.DefaultPolicy())
	ledger := trust.NewLedger(nil, machine)
	t.Cleanup(ledger.Close)

	gateway := classifier.NewGateway(svc, nil, classifier.GatewayConfig{
		MaxAttempts: 1,
		CallTimeout: 2 * time.Second,
		BackoffBase: time.Millisecond,
	})
	platform := &recordingPlatform{}
	disp := dispatcher.NewDispatcher(platform, nil, nil, dispatcher.Config{
		MaxAttempts: 1,
		CallTimeout: time.Second,
		BackoffBase: time.Millisecond,
	})

	eng := New(gateway, ledger, machine, disp, nil, nil, cfg)
	t.Cleanup(eng.Close)
	return &testRig{engine: eng, ledger: ledger, service: svc, platform: platform}
}

// wait blocks until the per-user workers spawned so far have drained.
func (r *testRig) wait() {
	r.engine.wg.Wait()
}

func messageEvent(userID uuid.UUID, content string) models.RawEvent {
	return models.RawEvent{
		UserID:    userID,
		Kind:      string(models.KindMessage),
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestEngine_ScamEscalatesToBan(t *testing.T) {
	svc := &scriptedService{results: []classifier.Classification{
		{Score: 1.0, Category: "scam", Rationale: "crypto doubling scheme"},
	}}
	rig := newTestRig(t, svc, Config{QueueDepth: 4})
	user := uuid.New()

	rig.engine.Handle(messageEvent(user, "send me 1 BTC get 2 back"))
	rig.wait()

	rec, err := rig.ledger.Snapshot(user)
	if err != nil || rec == nil {
		t.Fatalf("Expected a trust record, got %v, %v", rec, err)
	}
	if rec.Tier != models.TierWatched {
		t.Fatalf("Expected tier %q after first scam, got %q", models.TierWatched, rec.Tier)
	}
	if len(rig.platform.actions()) != 0 {
		t.Fatalf("Expected no enforcement yet, got %v", rig.platform.actions())
	}

	rig.engine.Handle(messageEvent(user, "last chance, send me 1 BTC"))
	rig.wait()

	rec, _ = rig.ledger.Snapshot(user)
	if rec.Tier != models.TierBanned {
		t.Errorf("Expected tier %q after second scam, got %q", models.TierBanned, rec.Tier)
	}
	actions := rig.platform.actions()
	if len(actions) != 1 || actions[0] != models.ActionBan {
		t.Errorf("Expected exactly one ban, got %v", actions)
	}

	stats := rig.engine.Counters()
	if stats.EventsProcessed != 2 {
		t.Errorf("Expected 2 events processed, got %d", stats.EventsProcessed)
	}
	if stats.VerdictsApplied != 2 {
		t.Errorf("Expected 2 verdicts applied, got %d", stats.VerdictsApplied)
	}
}

func TestEngine_DropsUnrecognizedKinds(t *testing.T) {
	svc := &scriptedService{results: []classifier.Classification{{Score: 0, Category: "none"}}}
	rig := newTestRig(t, svc, Config{QueueDepth: 4})
	user := uuid.New()

	rig.engine.Handle(models.RawEvent{UserID: user, Kind: "voice_state", Content: "x"})
	rig.engine.Handle(models.RawEvent{Kind: string(models.KindMessage), Content: "no user"})
	rig.wait()

	if got := rig.service.callCount(); got != 0 {
		t.Errorf("Expected 0 classifier calls, got %d", got)
	}
	stats := rig.engine.Counters()
	if stats.EventsDropped != 2 {
		t.Errorf("Expected 2 events dropped, got %d", stats.EventsDropped)
	}
	if rec, _ := rig.ledger.Snapshot(user); rec != nil {
		t.Errorf("Expected no trust record for dropped events, got %+v", rec)
	}
}

func TestEngine_JoinEventsSkipClassifier(t *testing.T) {
	svc := &scriptedService{results: []classifier.Classification{{Score: 1.0, Category: "scam"}}}
	rig := newTestRig(t, svc, Config{QueueDepth: 4})
	user := uuid.New()

	rig.engine.Handle(models.RawEvent{UserID: user, Kind: string(models.KindJoin)})
	rig.wait()

	if got := rig.service.callCount(); got != 0 {
		t.Errorf("Expected 0 external calls for a join event, got %d", got)
	}
	rec, _ := rig.ledger.Snapshot(user)
	if rec == nil {
		t.Fatal("Expected a trust record from the join event")
	}
	if rec.TrustScore != 100 {
		t.Errorf("Expected benign join to leave score at 100, got %.1f", rec.TrustScore)
	}
}

func TestEngine_StaleVerdictDiscarded(t *testing.T) {
	svc := &scriptedService{results: []classifier.Classification{{Score: 1.0, Category: "scam"}}}
	rig := newTestRig(t, svc, Config{QueueDepth: 4})
	user := uuid.New()

	evt := models.BehaviorEvent{UserID: user, Kind: models.KindMessage, Content: "first", Timestamp: time.Now()}
	seq := rig.engine.gateway.Observe(user)
	// A newer event arrives before the first is processed.
	rig.engine.gateway.Observe(user)

	rig.engine.process(job{evt: evt, seq: seq})

	if got := rig.service.callCount(); got != 0 {
		t.Errorf("Expected superseded event to skip classification, got %d calls", got)
	}
	stats := rig.engine.Counters()
	if stats.VerdictsStale != 1 {
		t.Errorf("Expected 1 stale verdict, got %d", stats.VerdictsStale)
	}
	if rec, _ := rig.ledger.Snapshot(user); rec != nil {
		t.Errorf("Expected no record from a stale verdict, got %+v", rec)
	}
}

func TestEngine_QueueOverflowShedsOldest(t *testing.T) {
	svc := &scriptedService{
		results: []classifier.Classification{{Score: 0, Category: "none"}},
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	rig := newTestRig(t, svc, Config{QueueDepth: 2})
	user := uuid.New()

	rig.engine.Handle(messageEvent(user, "msg 0"))
	// Worker is now blocked inside the classifier call.
	<-svc.entered

	for i := 1; i <= 4; i++ {
		rig.engine.Handle(messageEvent(user, "msg"))
	}
	close(svc.release)
	rig.wait()

	stats := rig.engine.Counters()
	if stats.EventsDropped != 2 {
		t.Errorf("Expected 2 shed events with depth 2, got %d dropped", stats.EventsDropped)
	}
}

func TestEngine_CountersSurviveRestart(t *testing.T) {
	svc := &scriptedService{results: []classifier.Classification{{Score: 0, Category: "none"}}}
	sink := newMemorySink()
	sink.stats["events_processed"] = 7
	sink.stats["verdicts_applied"] = 7
	sink.stats["events_dropped"] = 2
	sink.stats["verdicts_stale"] = 3
	sink.stats["degraded"] = 1

	machine := trust.NewMachine(trust.DefaultPolicy())
	ledger := trust.NewLedger(nil, machine)
	t.Cleanup(ledger.Close)
	gateway := classifier.NewGateway(svc, nil, classifier.GatewayConfig{
		MaxAttempts: 1,
		CallTimeout: 2 * time.Second,
		BackoffBase: time.Millisecond,
	})
	disp := dispatcher.NewDispatcher(&recordingPlatform{}, nil, nil, dispatcher.Config{
		MaxAttempts: 1,
		CallTimeout: time.Second,
		BackoffBase: time.Millisecond,
	})

	// A sink with persisted counters stands in for the previous run.
	eng := New(gateway, ledger, machine, disp, nil, sink, Config{QueueDepth: 4})
	t.Cleanup(eng.Close)

	stats := eng.Counters()
	if stats.EventsProcessed != 7 {
		t.Errorf("Expected 7 events processed restored, got %d", stats.EventsProcessed)
	}
	if stats.EventsDropped != 2 {
		t.Errorf("Expected 2 events dropped restored, got %d", stats.EventsDropped)
	}
	if stats.VerdictsStale != 3 {
		t.Errorf("Expected 3 stale verdicts restored, got %d", stats.VerdictsStale)
	}
	if stats.DegradedCount != 1 {
		t.Errorf("Expected 1 degraded verdict restored, got %d", stats.DegradedCount)
	}

	// New activity continues on top of the restored totals, in memory and
	// in the sink.
	eng.Handle(messageEvent(uuid.New(), "hello"))
	eng.wg.Wait()

	if got := eng.Counters().EventsProcessed; got != 8 {
		t.Errorf("Expected 8 events processed after one more event, got %d", got)
	}
	if v, _ := sink.GetStat("events_processed"); v != 8 {
		t.Errorf("Expected sink counter 8, got %d", v)
	}
}

func TestEngine_DegradedVerdictIsNeutral(t *testing.T) {
	svc := &scriptedService{err: classifier.ErrTimeout}
	rig := newTestRig(t, svc, Config{QueueDepth: 4})
	user := uuid.New()

	rig.engine.Handle(messageEvent(user, "hello there"))
	rig.wait()

	rec, _ := rig.ledger.Snapshot(user)
	if rec == nil {
		t.Fatal("Expected a trust record from the degraded verdict")
	}
	if rec.TrustScore != 100 {
		t.Errorf("Expected degraded verdict to leave score at 100, got %.1f", rec.TrustScore)
	}
	if rec.Tier != models.TierTrusted {
		t.Errorf("Expected tier %q, got %q", models.TierTrusted, rec.Tier)
	}
	stats := rig.engine.Counters()
	if stats.DegradedCount != 1 {
		t.Errorf("Expected 1 degraded verdict, got %d", stats.DegradedCount)
	}
	if len(rig.platform.actions()) != 0 {
		t.Errorf("Expected no enforcement from degraded verdict, got %v", rig.platform.actions())
	}
}
