package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/models"
)

// fakePlatform is a scriptable platform action API
type fakePlatform struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakePlatform) ExecuteAction(ctx context.Context, userID uuid.UUID, action models.ActionType, duration time.Duration, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.errs) {
		idx = len(f.errs) - 1
	}
	return f.errs[idx]
}

func (f *fakePlatform) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memAudit collects audit entries
type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *memAudit) Append(entry *models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *memAudit) all() []models.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AuditEntry{}, a.entries...)
}

func fastDispatchConfig() Config {
	return Config{
		MaxAttempts: 3,
		CallTimeout: time.Second,
		BackoffBase: time.Millisecond,
	}
}

func warnIntent() *models.ActionIntent {
	return &models.ActionIntent{
		UserID: uuid.New(),
		Action: models.ActionWarn,
		Reason: "trust dropped to 30.0 (spam)",
	}
}

func TestDispatch_SuccessAudited(t *testing.T) {
	platform := &fakePlatform{errs: []error{nil}}
	audit := &memAudit{}
	d := NewDispatcher(platform, audit, nil, fastDispatchConfig())

	if err := d.Dispatch(context.Background(), warnIntent()); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}

	entries := audit.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Outcome != models.OutcomeSuccess {
		t.Errorf("expected success outcome, got %s", entries[0].Outcome)
	}
}

func TestDispatch_ForbiddenNotRetried(t *testing.T) {
	platform := &fakePlatform{errs: []error{ErrForbidden}}
	audit := &memAudit{}
	d := NewDispatcher(platform, audit, nil, fastDispatchConfig())

	err := d.Dispatch(context.Background(), warnIntent())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if platform.callCount() != 1 {
		t.Errorf("permission errors must not be retried, got %d calls", platform.callCount())
	}

	entries := audit.all()
	if len(entries) != 1 || entries[0].Outcome != models.OutcomePermissionDenied {
		t.Errorf("expected permission_denied audit entry, got %+v", entries)
	}
}

func TestDispatch_RateLimitRetriedThenSucceeds(t *testing.T) {
	platform := &fakePlatform{errs: []error{ErrRateLimited, ErrRateLimited, nil}}
	audit := &memAudit{}
	d := NewDispatcher(platform, audit, nil, fastDispatchConfig())

	if err := d.Dispatch(context.Background(), warnIntent()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if platform.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", platform.callCount())
	}

	// Every attempt is audited, success last.
	entries := audit.all()
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(entries))
	}
	if entries[2].Outcome != models.OutcomeSuccess {
		t.Errorf("expected final success entry, got %s", entries[2].Outcome)
	}
}

func TestDispatch_RateLimitExhaustsToActionFailed(t *testing.T) {
	platform := &fakePlatform{errs: []error{ErrRateLimited}}
	d := NewDispatcher(platform, &memAudit{}, nil, fastDispatchConfig())

	err := d.Dispatch(context.Background(), warnIntent())
	if !errors.Is(err, ErrActionFailed) {
		t.Fatalf("expected ErrActionFailed, got %v", err)
	}
	if platform.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", platform.callCount())
	}
}

func TestDispatch_UnknownErrorNotRetried(t *testing.T) {
	platform := &fakePlatform{errs: []error{ErrUnknown}}
	audit := &memAudit{}
	d := NewDispatcher(platform, audit, nil, fastDispatchConfig())

	err := d.Dispatch(context.Background(), warnIntent())
	if !errors.Is(err, ErrActionFailed) {
		t.Fatalf("expected ErrActionFailed, got %v", err)
	}
	if platform.callCount() != 1 {
		t.Errorf("unknown errors must not be retried, got %d calls", platform.callCount())
	}
}

func TestDispatch_MuteCarriesDurationMetadata(t *testing.T) {
	platform := &fakePlatform{errs: []error{nil}}
	audit := &memAudit{}
	d := NewDispatcher(platform, audit, nil, fastDispatchConfig())

	intent := &models.ActionIntent{
		UserID:   uuid.New(),
		Action:   models.ActionMute,
		Duration: 20 * time.Minute,
		Reason:   "trust dropped to 15.0 (toxicity)",
	}
	if err := d.Dispatch(context.Background(), intent); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}

	entries := audit.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Metadata["duration_seconds"] != int64(1200) {
		t.Errorf("expected duration metadata, got %+v", entries[0].Metadata)
	}
}
