package workflow_test

import (
	"testing"
	"time"

	"github.com/mp21695/urbanwatch/internal/domain"
	"github.com/mp21695/urbanwatch/internal/workflow"
)

func pendingComplaint(created time.Time, slaHours int) domain.Complaint {
	ts := created.UTC().Format(time.RFC3339)
	return domain.Complaint{
		ID:        "UW-100001",
		IssueType: "garbage",
		Location:  "2nd Main Road",
		Area:      "Adyar",
		Status:    workflow.StatusPending,
		SLAHours:  slaHours,
		Progress: []domain.ProgressEntry{
			{Stage: "submitted", Timestamp: ts, Completed: true},
		},
		CreatedAt: ts,
	}
}

func TestIsBreaching(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	c := pendingComplaint(now.Add(-30*time.Hour), 24)
	if !workflow.IsBreaching(c, now) {
		t.Fatalf("pending complaint past its deadline should breach")
	}

	c = pendingComplaint(now.Add(-30*time.Hour), 24)
	c.Status = workflow.StatusResolved
	if workflow.IsBreaching(c, now) {
		t.Fatalf("resolved complaint must never breach")
	}

	// exactly at the deadline is not yet a breach
	c = pendingComplaint(now.Add(-24*time.Hour), 24)
	if workflow.IsBreaching(c, now) {
		t.Fatalf("deadline boundary should not breach")
	}

	c = pendingComplaint(now.Add(-23*time.Hour), 24)
	if workflow.IsBreaching(c, now) {
		t.Fatalf("complaint within deadline should not breach")
	}

	c = pendingComplaint(now.Add(-30*time.Hour), 24)
	c.CreatedAt = "not-a-timestamp"
	if workflow.IsBreaching(c, now) {
		t.Fatalf("unparseable created_at should not breach")
	}
}

func TestCurrentStageAndCompletion(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := pendingComplaint(now.Add(-time.Hour), 24)

	if got := workflow.CurrentStage(c); got != "submitted" {
		t.Fatalf("current stage = %q, want submitted", got)
	}
	if got := workflow.CompletionRatio(c); got != 0.2 {
		t.Fatalf("completion = %v, want 0.2", got)
	}

	c.Progress = append(c.Progress,
		domain.ProgressEntry{Stage: "verified", Timestamp: c.CreatedAt, Completed: true},
		domain.ProgressEntry{Stage: "assigned", Timestamp: c.CreatedAt, Completed: true},
	)
	if got := workflow.CurrentStage(c); got != "assigned" {
		t.Fatalf("current stage = %q, want assigned", got)
	}
	if got := workflow.CompletionRatio(c); got != 0.6 {
		t.Fatalf("completion = %v, want 0.6", got)
	}

	c.Progress = nil
	if got := workflow.CurrentStage(c); got != "submitted" {
		t.Fatalf("empty progress stage = %q, want submitted", got)
	}
}

func TestValidateTransition(t *testing.T) {
	if err := workflow.ValidateTransition("submitted", "verified"); err != nil {
		t.Fatalf("submitted -> verified: %v", err)
	}
	if err := workflow.ValidateTransition("submitted", "assigned"); err == nil {
		t.Fatalf("skipping a stage should be rejected")
	}
	if err := workflow.ValidateTransition("verified", "submitted"); err == nil {
		t.Fatalf("moving backwards should be rejected")
	}
	if err := workflow.ValidateTransition("resolved", "in_progress"); err == nil {
		t.Fatalf("terminal stage should reject all transitions")
	}
	if err := workflow.ValidateTransition("in_progress", "resolved"); err != nil {
		t.Fatalf("in_progress -> resolved: %v", err)
	}
}

func TestSLAHoursFor(t *testing.T) {
	if got := workflow.SLAHoursFor("garbage"); got != 24 {
		t.Fatalf("garbage = %d, want 24", got)
	}
	if got := workflow.SLAHoursFor("road-damage"); got != 336 {
		t.Fatalf("road-damage = %d, want 336", got)
	}
	if got := workflow.SLAHoursFor("unknown-category"); got != workflow.SLAHoursFor("other") {
		t.Fatalf("unknown category should fall back to other, got %d", got)
	}
}
