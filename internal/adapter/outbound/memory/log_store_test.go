package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

func newLog(id, userID string, status actionlog.Status, createdAt time.Time) *actionlog.ActionLog {
	return &actionlog.ActionLog{
		ID:             id,
		UserID:         userID,
		ActionTypeID:   "type-1",
		ActionTypeName: "send_email_reply",
		AuthorityLevel: authority.LevelDraftApprove,
		Status:         status,
		TargetType:     actionlog.TargetEmail,
		TargetID:       "email-1",
		CreatedAt:      createdAt,
	}
}

func TestLogStoreCreateAndByID(t *testing.T) {
	ctx := context.Background()
	store := NewLogStore()

	log := newLog("a1", "user-1", actionlog.StatusPendingApproval, time.Now().UTC())
	log.Payload = map[string]any{"to": "bob@acme.com"}
	if err := store.Create(ctx, log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.ByID(ctx, "a1")
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if got.UserID != "user-1" || got.Status != actionlog.StatusPendingApproval {
		t.Errorf("ByID() = %+v, want the created log back", got)
	}

	// Mutating the returned copy must not touch the stored row.
	got.Status = actionlog.StatusExecuted
	got.Payload["to"] = "eve@evil.example"
	again, err := store.ByID(ctx, "a1")
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if again.Status != actionlog.StatusPendingApproval {
		t.Error("stored status changed through a returned copy")
	}
	if again.Payload["to"] != "bob@acme.com" {
		t.Error("stored payload changed through a returned copy")
	}

	if _, err := store.ByID(ctx, "missing"); !errors.Is(err, actionlog.ErrNotFound) {
		t.Errorf("ByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLogStoreTransition(t *testing.T) {
	ctx := context.Background()
	store := NewLogStore()
	if err := store.Create(ctx, newLog("a1", "user-1", actionlog.StatusPendingApproval, time.Now().UTC())); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := store.Transition(ctx, "a1",
		[]actionlog.Status{actionlog.StatusPendingApproval},
		func(l *actionlog.ActionLog) {
			l.Status = actionlog.StatusApproved
		})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if updated.Status != actionlog.StatusApproved {
		t.Errorf("Transition() status = %s, want approved", updated.Status)
	}

	// Guarded transition from the wrong state must fail.
	_, err = store.Transition(ctx, "a1",
		[]actionlog.Status{actionlog.StatusPendingApproval},
		func(l *actionlog.ActionLog) {
			l.Status = actionlog.StatusRejected
		})
	if !errors.Is(err, actionlog.ErrInvalidTransition) {
		t.Errorf("Transition() from wrong state error = %v, want ErrInvalidTransition", err)
	}

	// An empty guard skips the status check (used for feedback capture).
	got, err := store.Transition(ctx, "a1", nil, func(l *actionlog.ActionLog) {
		l.UserFeedback = actionlog.FeedbackCorrect
	})
	if err != nil {
		t.Fatalf("Transition() unguarded error = %v", err)
	}
	if got.UserFeedback != actionlog.FeedbackCorrect {
		t.Errorf("UserFeedback = %s, want correct", got.UserFeedback)
	}
	if got.Status != actionlog.StatusApproved {
		t.Errorf("Status = %s, want approved untouched", got.Status)
	}

	if _, err := store.Transition(ctx, "missing", nil, func(l *actionlog.ActionLog) {}); !errors.Is(err, actionlog.ErrNotFound) {
		t.Errorf("Transition(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLogStoreListAndCount(t *testing.T) {
	ctx := context.Background()
	store := NewLogStore()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	logs := []*actionlog.ActionLog{
		newLog("a1", "user-1", actionlog.StatusPendingApproval, base.Add(2*time.Hour)),
		newLog("a2", "user-1", actionlog.StatusPendingApproval, base),
		newLog("a3", "user-1", actionlog.StatusExecuted, base.Add(time.Hour)),
		newLog("a4", "user-2", actionlog.StatusPendingApproval, base),
	}
	for _, l := range logs {
		if err := store.Create(ctx, l); err != nil {
			t.Fatalf("Create(%s) error = %v", l.ID, err)
		}
	}

	pending, err := store.List(ctx, actionlog.Filter{
		UserID:   "user-1",
		Statuses: []actionlog.Status{actionlog.StatusPendingApproval},
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("List() returned %d logs, want 2", len(pending))
	}
	if pending[0].ID != "a2" || pending[1].ID != "a1" {
		t.Errorf("List() order = [%s %s], want oldest first [a2 a1]", pending[0].ID, pending[1].ID)
	}

	limited, err := store.List(ctx, actionlog.Filter{UserID: "user-1", Limit: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "a2" {
		t.Errorf("List(limit=1) = %v, want just a2", limited)
	}

	since, err := store.List(ctx, actionlog.Filter{UserID: "user-1", Since: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(since) != 2 {
		t.Errorf("List(since) returned %d logs, want 2", len(since))
	}

	n, err := store.Count(ctx, actionlog.Filter{
		UserID:   "user-1",
		Statuses: []actionlog.Status{actionlog.StatusPendingApproval},
	})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestLogStoreStats(t *testing.T) {
	ctx := context.Background()
	store := NewLogStore()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	a := newLog("a1", "user-1", actionlog.StatusExecuted, base)
	b := newLog("a2", "user-1", actionlog.StatusPendingApproval, base.Add(time.Hour))
	c := newLog("a3", "user-1", actionlog.StatusExecuted, base.Add(2*time.Hour))
	c.ActionTypeName = "archive_email"
	d := newLog("a4", "user-2", actionlog.StatusExecuted, base)
	for _, l := range []*actionlog.ActionLog{a, b, c, d} {
		if err := store.Create(ctx, l); err != nil {
			t.Fatalf("Create(%s) error = %v", l.ID, err)
		}
	}

	stats, err := store.Stats(ctx, "user-1", time.Time{})
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[actionlog.StatusExecuted] != 2 {
		t.Errorf("ByStatus[executed] = %d, want 2", stats.ByStatus[actionlog.StatusExecuted])
	}
	if stats.ByType["send_email_reply"] != 2 || stats.ByType["archive_email"] != 1 {
		t.Errorf("ByType = %v, want send_email_reply:2 archive_email:1", stats.ByType)
	}

	recent, err := store.Stats(ctx, "user-1", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if recent.Total != 2 {
		t.Errorf("Stats(since).Total = %d, want 2", recent.Total)
	}
}
