package interpreter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/classifier"
	"github.com/warden/backend/internal/dispatcher"
	"github.com/warden/backend/internal/models"
	"github.com/warden/backend/internal/trust"
)

type fakeAI struct {
	intent *classifier.ExtractedIntent
	err    error
}

func (f *fakeAI) Classify(ctx context.Context, content, channelContext string) (*classifier.Classification, error) {
	return nil, errors.New("not used")
}

func (f *fakeAI) ExtractIntent(ctx context.Context, text string) (*classifier.ExtractedIntent, error) {
	return f.intent, f.err
}

type fakePlatform struct {
	calls []models.ActionType
}

func (f *fakePlatform) ExecuteAction(ctx context.Context, userID uuid.UUID, action models.ActionType, duration time.Duration, reason string) error {
	f.calls = append(f.calls, action)
	return nil
}

type fakeTrustQueries struct {
	topRiskLimit int
	records      []models.TrustRecord
}

func (f *fakeTrustQueries) QueryTopRisk(limit int) ([]models.TrustRecord, error) {
	f.topRiskLimit = limit
	return f.records, nil
}

func (f *fakeTrustQueries) TierCounts() (map[models.Tier]int, float64, int, error) {
	return map[models.Tier]int{models.TierTrusted: 3, models.TierWatched: 1}, 82.5, 4, nil
}

type fakeAuditQueries struct{}

func (f *fakeAuditQueries) CountByOutcome() (map[string]int64, error) {
	return map[string]int64{models.OutcomeSuccess: 7, models.OutcomeActionFailed: 2}, nil
}

type fakeCounters struct{}

func (f *fakeCounters) Counters() models.EngineStats {
	return models.EngineStats{EventsProcessed: 42, VerdictsApplied: 40}
}

type harness struct {
	interp   *Interpreter
	ledger   *trust.Ledger
	machine  *trust.Machine
	platform *fakePlatform
	trustQ   *fakeTrustQueries
}

func newHarness(t *testing.T, ai classifier.Service) *harness {
	t.Helper()
	machine := trust.NewMachine(trust.DefaultPolicy())
	ledger := trust.NewLedger(nil, machine)
	t.Cleanup(ledger.Close)

	platform := &fakePlatform{}
	disp := dispatcher.NewDispatcher(platform, nil, nil, dispatcher.Config{
		MaxAttempts: 1,
		CallTimeout: time.Second,
		BackoffBase: time.Millisecond,
	})
	trustQ := &fakeTrustQueries{}

	interp := New(ai, ledger, machine, disp, trustQ, &fakeAuditQueries{}, &fakeCounters{})
	return &harness{interp: interp, ledger: ledger, machine: machine, platform: platform, trustQ: trustQ}
}

func operatorWith(role models.Role) *models.Operator {
	return &models.Operator{ID: uuid.New(), Email: "op@example.com", Role: role}
}

func TestExecute_UnmappableTextTakesNoAction(t *testing.T) {
	h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{Op: "unknown"}})

	resp := h.interp.Execute(context.Background(), operatorWith(models.RoleAdmin), "what's the weather like")

	if resp.Status != models.StatusNoAction {
		t.Errorf("Expected status %q, got %q", models.StatusNoAction, resp.Status)
	}
	if resp.Op != models.OpUnknown {
		t.Errorf("Expected op %q, got %q", models.OpUnknown, resp.Op)
	}
	if len(h.platform.calls) != 0 {
		t.Errorf("Expected no platform calls, got %d", len(h.platform.calls))
	}
}

func TestExecute_ExtractionFailureTakesNoAction(t *testing.T) {
	h := newHarness(t, &fakeAI{err: classifier.ErrTimeout})

	resp := h.interp.Execute(context.Background(), operatorWith(models.RoleAdmin), "ban everyone")

	if resp.Status != models.StatusNoAction {
		t.Errorf("Expected status %q, got %q", models.StatusNoAction, resp.Status)
	}
}

func TestInterpret_RejectsOutOfGrammarResults(t *testing.T) {
	target := uuid.New()
	tests := []struct {
		name   string
		intent classifier.ExtractedIntent
	}{
		{"invented op", classifier.ExtractedIntent{Op: "delete_database"}},
		{"bad user ref", classifier.ExtractedIntent{Op: "query_user", UserRef: "not-a-uuid"}},
		{"invented action", classifier.ExtractedIntent{Op: "execute_action", UserRef: target.String(), Action: "shadowban"}},
		{"action without user", classifier.ExtractedIntent{Op: "execute_action", Action: "warn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeAI{intent: &tt.intent})
			got := h.interp.Interpret(context.Background(), "some text")
			if got.Op != models.OpUnknown {
				t.Errorf("Expected OpUnknown, got %q", got.Op)
			}
		})
	}
}

func TestExecute_QueryUserReturnsRecord(t *testing.T) {
	target := uuid.New()
	h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{
		Op:      string(models.OpQueryUser),
		UserRef: target.String(),
	}})

	// Seed the user by touching their record once.
	if _, err := h.ledger.Update(target, func(rec *models.TrustRecord) (*models.TrustHistoryEntry, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}

	resp := h.interp.Execute(context.Background(), operatorWith(models.RoleViewer), "show me user "+target.String())

	if resp.Status != models.StatusOK {
		t.Fatalf("Expected status %q, got %q (%s)", models.StatusOK, resp.Status, resp.Message)
	}
	rec, ok := resp.Payload.(*models.TrustRecord)
	if !ok {
		t.Fatalf("Expected *models.TrustRecord payload, got %T", resp.Payload)
	}
	if rec.UserID != target {
		t.Errorf("Expected record for %s, got %s", target, rec.UserID)
	}
}

func TestExecute_QueryUserUnseenIsError(t *testing.T) {
	target := uuid.New()
	h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{
		Op:      string(models.OpQueryUser),
		UserRef: target.String(),
	}})

	resp := h.interp.Execute(context.Background(), operatorWith(models.RoleViewer), "show me user "+target.String())

	if resp.Status != models.StatusError {
		t.Errorf("Expected status %q, got %q", models.StatusError, resp.Status)
	}
}

func TestExecute_TopRiskClampsLimit(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		expected  int
	}{
		{"zero defaults", 0, defaultTopRiskLimit},
		{"negative defaults", -5, defaultTopRiskLimit},
		{"normal passes through", 25, 25},
		{"huge is capped", 5000, maxTopRiskLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{
				Op:    string(models.OpQueryTopRisk),
				Limit: tt.requested,
			}})

			resp := h.interp.Execute(context.Background(), operatorWith(models.RoleViewer), "riskiest users")

			if resp.Status != models.StatusOK {
				t.Fatalf("Expected status %q, got %q", models.StatusOK, resp.Status)
			}
			if h.trustQ.topRiskLimit != tt.expected {
				t.Errorf("Expected query limit %d, got %d", tt.expected, h.trustQ.topRiskLimit)
			}
		})
	}
}

func TestExecute_StatsMergesCountersAndAggregates(t *testing.T) {
	h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{Op: string(models.OpQueryStats)}})

	resp := h.interp.Execute(context.Background(), operatorWith(models.RoleViewer), "how are things looking")

	if resp.Status != models.StatusOK {
		t.Fatalf("Expected status %q, got %q", models.StatusOK, resp.Status)
	}
	stats, ok := resp.Payload.(models.EngineStats)
	if !ok {
		t.Fatalf("Expected models.EngineStats payload, got %T", resp.Payload)
	}
	if stats.EventsProcessed != 42 {
		t.Errorf("Expected 42 events processed, got %d", stats.EventsProcessed)
	}
	if stats.TotalUsers != 4 {
		t.Errorf("Expected 4 total users, got %d", stats.TotalUsers)
	}
	if stats.ActionsTotal != 9 {
		t.Errorf("Expected 9 total actions, got %d", stats.ActionsTotal)
	}
	if stats.TierCounts[models.TierTrusted] != 3 {
		t.Errorf("Expected 3 trusted users, got %d", stats.TierCounts[models.TierTrusted])
	}
}

func TestExecute_RoleGatesActions(t *testing.T) {
	target := uuid.New()
	tests := []struct {
		name    string
		role    models.Role
		action  models.ActionType
		allowed bool
	}{
		{"viewer cannot warn", models.RoleViewer, models.ActionWarn, false},
		{"moderator can mute", models.RoleModerator, models.ActionMute, true},
		{"moderator cannot ban", models.RoleModerator, models.ActionBan, false},
		{"admin can ban", models.RoleAdmin, models.ActionBan, true},
		{"admin can unban", models.RoleAdmin, models.ActionUnban, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{
				Op:      string(models.OpExecuteAction),
				UserRef: target.String(),
				Action:  string(tt.action),
			}})

			resp := h.interp.Execute(context.Background(), operatorWith(tt.role), "do it")

			if tt.allowed {
				if resp.Status != models.StatusOK {
					t.Fatalf("Expected status %q, got %q (%s)", models.StatusOK, resp.Status, resp.Message)
				}
				if len(h.platform.calls) != 1 || h.platform.calls[0] != tt.action {
					t.Errorf("Expected one %s platform call, got %v", tt.action, h.platform.calls)
				}
			} else {
				if resp.Status != models.StatusError {
					t.Fatalf("Expected status %q, got %q", models.StatusError, resp.Status)
				}
				if len(h.platform.calls) != 0 {
					t.Errorf("Expected no platform calls, got %v", h.platform.calls)
				}
			}
		})
	}
}

func TestExecute_ManualBanUpdatesLedger(t *testing.T) {
	target := uuid.New()
	h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{
		Op:      string(models.OpExecuteAction),
		UserRef: target.String(),
		Action:  string(models.ActionBan),
		Reason:  "repeated scam links",
	}})

	resp := h.interp.Execute(context.Background(), operatorWith(models.RoleAdmin), "ban "+target.String())

	if resp.Status != models.StatusOK {
		t.Fatalf("Expected status %q, got %q (%s)", models.StatusOK, resp.Status, resp.Message)
	}
	rec, err := h.ledger.Snapshot(target)
	if err != nil || rec == nil {
		t.Fatalf("Expected a ledger record after manual ban, got %v, %v", rec, err)
	}
	if rec.Tier != models.TierBanned {
		t.Errorf("Expected tier %q, got %q", models.TierBanned, rec.Tier)
	}
	if rec.TrustScore != 0 {
		t.Errorf("Expected score 0, got %.1f", rec.TrustScore)
	}
}

func TestExecute_UnbanResetsRecord(t *testing.T) {
	target := uuid.New()
	h := newHarness(t, &fakeAI{intent: &classifier.ExtractedIntent{
		Op:      string(models.OpExecuteAction),
		UserRef: target.String(),
		Action:  string(models.ActionUnban),
	}})

	// Put the user into the terminal tier first.
	if _, err := h.ledger.Update(target, func(rec *models.TrustRecord) (*models.TrustHistoryEntry, error) {
		rec.TrustScore = 0
		rec.Tier = models.TierBanned
		return nil, nil
	}); err != nil {
		t.Fatalf("Failed to seed banned record: %v", err)
	}

	resp := h.interp.Execute(context.Background(), operatorWith(models.RoleAdmin), "unban "+target.String())

	if resp.Status != models.StatusOK {
		t.Fatalf("Expected status %q, got %q (%s)", models.StatusOK, resp.Status, resp.Message)
	}
	rec, err := h.ledger.Snapshot(target)
	if err != nil || rec == nil {
		t.Fatalf("Expected a ledger record after unban, got %v, %v", rec, err)
	}
	if rec.Tier == models.TierBanned {
		t.Errorf("Expected tier to leave %q after unban", models.TierBanned)
	}
	if rec.TrustScore != h.machine.Policy().InitialScore {
		t.Errorf("Expected score reset to %.1f, got %.1f", h.machine.Policy().InitialScore, rec.TrustScore)
	}
}
