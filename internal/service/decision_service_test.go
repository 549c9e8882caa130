package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ostiary-ai/ostiary/internal/adapter/outbound/memory"
	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// decisionFixture wires a DecisionService over in-memory stores with a
// small seeded catalog. expr may be nil.
func decisionFixture(t *testing.T, expr authority.ExpressionEvaluator) (*DecisionService, *AuthorityService, *memory.LogStore) {
	t.Helper()
	ctx := context.Background()
	types := memory.NewTypeStore()

	for _, at := range []*authority.ActionType{
		{ID: "t-auto", Name: "label_email", Category: authority.CategoryEmail,
			RiskLevel: authority.RiskLow, DefaultAuthorityLevel: authority.LevelFullAuto, Reversible: true},
		{ID: "t-draft", Name: "create_calendar_event", Category: authority.CategoryCalendar,
			RiskLevel: authority.RiskMedium, DefaultAuthorityLevel: authority.LevelDraftApprove, Reversible: true},
		{ID: "t-ask", Name: "send_email_reply", Category: authority.CategoryEmail,
			RiskLevel: authority.RiskHigh, DefaultAuthorityLevel: authority.LevelAskFirst},
	} {
		if err := types.CreateType(ctx, at); err != nil {
			t.Fatalf("CreateType(%s) error = %v", at.Name, err)
		}
	}

	logs := memory.NewLogStore()
	resolver := NewAuthorityService(types, memory.NewSettingStore(), nil, discardLogger())
	svc := NewDecisionService(types, resolver, logs, expr, discardLogger())
	return svc, resolver, logs
}

func TestProcessActionRequestUnknownType(t *testing.T) {
	ctx := context.Background()
	svc, _, logs := decisionFixture(t, nil)

	decision, err := svc.ProcessActionRequest(ctx, "user-1", ActionRequest{
		ActionTypeName: "teleport_user",
		TargetType:     actionlog.TargetPerson,
	})
	if err != nil {
		t.Fatalf("ProcessActionRequest() error = %v", err)
	}
	if decision.ShouldExecute || decision.ActionLog != nil {
		t.Errorf("decision = %+v, want negative with no log", decision)
	}

	n, _ := logs.Count(ctx, actionlog.Filter{})
	if n != 0 {
		t.Errorf("log count = %d, want 0 for unknown type", n)
	}
}

func TestProcessActionRequestDisabled(t *testing.T) {
	ctx := context.Background()
	svc, resolver, logs := decisionFixture(t, nil)

	if _, err := resolver.SetLevel(ctx, "user-1", "t-auto", authority.LevelDisabled, nil); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}

	decision, err := svc.ProcessActionRequest(ctx, "user-1", ActionRequest{
		ActionTypeName: "label_email",
		TargetType:     actionlog.TargetEmail,
		TargetID:       "email-1",
	})
	if err != nil {
		t.Fatalf("ProcessActionRequest() error = %v", err)
	}
	if decision.ShouldExecute || decision.RequiresApproval || decision.ActionLog != nil {
		t.Errorf("decision = %+v, want fully negative with no log", decision)
	}
	if decision.AuthorityLevel != authority.LevelDisabled {
		t.Errorf("AuthorityLevel = %s, want disabled", decision.AuthorityLevel)
	}

	n, _ := logs.Count(ctx, actionlog.Filter{})
	if n != 0 {
		t.Errorf("log count = %d, want 0 for disabled type", n)
	}
}

func TestProcessActionRequestFullAuto(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := decisionFixture(t, nil)

	decision, err := svc.ProcessActionRequest(ctx, "user-1", ActionRequest{
		ActionTypeName: "label_email",
		TargetType:     actionlog.TargetEmail,
		TargetID:       "email-1",
		Description:    "Label newsletter",
	})
	if err != nil {
		t.Fatalf("ProcessActionRequest() error = %v", err)
	}
	if !decision.ShouldExecute || decision.RequiresApproval {
		t.Errorf("decision = %+v, want immediate execution", decision)
	}
	log := decision.ActionLog
	if log == nil {
		t.Fatal("ActionLog = nil, want a persisted log")
	}
	if log.Status != actionlog.StatusApproved {
		t.Errorf("Status = %s, want approved (full-auto skips the queue)", log.Status)
	}
	if log.ApprovedAt == nil {
		t.Error("ApprovedAt = nil, want set for pre-approved logs")
	}
	if log.Metadata.TriggeredBy != "auto" {
		t.Errorf("TriggeredBy = %q, want auto", log.Metadata.TriggeredBy)
	}
}

func TestProcessActionRequestDraftApprove(t *testing.T) {
	ctx := context.Background()
	svc, _, logs := decisionFixture(t, nil)

	decision, err := svc.ProcessActionRequest(ctx, "user-1", ActionRequest{
		ActionTypeName: "create_calendar_event",
		TargetType:     actionlog.TargetCalendarEvent,
		TargetID:       "evt-1",
	})
	if err != nil {
		t.Fatalf("ProcessActionRequest() error = %v", err)
	}
	if decision.ShouldExecute || !decision.RequiresApproval {
		t.Errorf("decision = %+v, want approval required", decision)
	}
	if decision.ActionLog.Status != actionlog.StatusPendingApproval {
		t.Errorf("Status = %s, want pending_approval", decision.ActionLog.Status)
	}

	stored, err := logs.ByID(ctx, decision.ActionLog.ID)
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if stored.Status != actionlog.StatusPendingApproval {
		t.Errorf("stored status = %s, want pending_approval", stored.Status)
	}
}

func TestProcessActionRequestConditionFallback(t *testing.T) {
	ctx := context.Background()
	svc, resolver, _ := decisionFixture(t, nil)

	// Grant full_auto but only above 80% confidence.
	minConf := 0.8
	if _, err := resolver.SetLevel(ctx, "user-1", "t-auto", authority.LevelFullAuto,
		&authority.Conditions{MinConfidence: &minConf}); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}

	low := 40.0
	decision, err := svc.ProcessActionRequest(ctx, "user-1", ActionRequest{
		ActionTypeName:  "label_email",
		TargetType:      actionlog.TargetEmail,
		TargetID:        "email-1",
		ConfidenceScore: &low,
	})
	if err != nil {
		t.Fatalf("ProcessActionRequest() error = %v", err)
	}
	// The violation tightens to ask_first, never executes silently.
	if decision.ShouldExecute {
		t.Error("ShouldExecute = true for a failed condition, want false")
	}
	if decision.AuthorityLevel != authority.LevelAskFirst {
		t.Errorf("AuthorityLevel = %s, want ask_first fallback", decision.AuthorityLevel)
	}
	if decision.ActionLog == nil || decision.ActionLog.Status != actionlog.StatusPendingApproval {
		t.Errorf("ActionLog = %+v, want pending_approval", decision.ActionLog)
	}
	if decision.ActionLog.AuthorityLevel != authority.LevelAskFirst {
		t.Errorf("log AuthorityLevel = %s, want the applied ask_first recorded", decision.ActionLog.AuthorityLevel)
	}
	if decision.FailedCondition != "min_confidence" {
		t.Errorf("FailedCondition = %q, want min_confidence", decision.FailedCondition)
	}

	// Without a confidence score the floor is skipped, not failed.
	decision, err = svc.ProcessActionRequest(ctx, "user-1", ActionRequest{
		ActionTypeName: "label_email",
		TargetType:     actionlog.TargetEmail,
		TargetID:       "email-2",
	})
	if err != nil {
		t.Fatalf("ProcessActionRequest() error = %v", err)
	}
	if !decision.ShouldExecute {
		t.Error("ShouldExecute = false with no score, want the floor skipped")
	}
}

func TestCheckAuthority(t *testing.T) {
	ctx := context.Background()
	svc, resolver, _ := decisionFixture(t, nil)

	if _, err := resolver.SetLevel(ctx, "user-1", "t-ask", authority.LevelFullAuto,
		&authority.Conditions{VIPOnly: true}); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}

	vip := true
	check, err := svc.CheckAuthority(ctx, "user-1", "send_email_reply", &authority.Context{VIP: &vip})
	if err != nil {
		t.Fatalf("CheckAuthority() error = %v", err)
	}
	if !check.Allowed || check.RequiresApproval {
		t.Errorf("check = %+v, want allowed without approval for a VIP", check)
	}
	if !check.IsUserOverride {
		t.Error("IsUserOverride = false, want true")
	}

	notVIP := false
	check, err = svc.CheckAuthority(ctx, "user-1", "send_email_reply", &authority.Context{VIP: &notVIP})
	if err != nil {
		t.Fatalf("CheckAuthority() error = %v", err)
	}
	if !check.Allowed || !check.RequiresApproval {
		t.Errorf("check = %+v, want allowed but requiring approval after fallback", check)
	}
	if check.Level != authority.LevelAskFirst {
		t.Errorf("Level = %s, want ask_first fallback", check.Level)
	}
	if check.Conditions.Met {
		t.Error("Conditions.Met = true for a non-VIP, want false")
	}

	// Disabled is reported as not allowed.
	if _, err := resolver.SetLevel(ctx, "user-1", "t-ask", authority.LevelDisabled, nil); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	check, err = svc.CheckAuthority(ctx, "user-1", "send_email_reply", nil)
	if err != nil {
		t.Fatalf("CheckAuthority() error = %v", err)
	}
	if check.Allowed {
		t.Error("Allowed = true for a disabled type, want false")
	}

	if _, err := svc.CheckAuthority(ctx, "user-1", "teleport_user", nil); !errors.Is(err, authority.ErrUnknownActionType) {
		t.Errorf("CheckAuthority(unknown) error = %v, want ErrUnknownActionType", err)
	}
}
