package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mp21695/urbanwatch/internal/config"
	"github.com/mp21695/urbanwatch/internal/db"
	"github.com/mp21695/urbanwatch/internal/engine"
	"github.com/mp21695/urbanwatch/internal/migrate"
	"github.com/mp21695/urbanwatch/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Now    time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }
	return testEnv{Engine: eng, Ctx: context.Background(), Now: now}
}

func TestSubmitComplaintDefaults(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: "garbage",
		Location:  "2nd Main Road",
		Area:      "Adyar",
		ActorID:   "citizen-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(c.ID, "UW-") || len(c.ID) != 9 {
		t.Fatalf("id %q should be UW- plus six digits", c.ID)
	}
	if c.SLAHours != 24 {
		t.Fatalf("sla hours = %d, want category default 24", c.SLAHours)
	}
	if c.Status != workflow.StatusPending {
		t.Fatalf("status = %q, want pending", c.Status)
	}
	if len(c.Progress) != 1 || c.Progress[0].Stage != "submitted" {
		t.Fatalf("progress = %+v, want single submitted entry", c.Progress)
	}

	got, err := env.Engine.Repo.GetComplaint(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Area != "Adyar" || len(got.Progress) != 1 {
		t.Fatalf("stored complaint = %+v", got)
	}
}

func TestSubmitComplaintValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: "time-travel",
		Location:  "somewhere",
		Area:      "Adyar",
	}); err == nil {
		t.Fatalf("unknown issue category should be rejected")
	}
	if _, err := env.Engine.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: "garbage",
		Location:  "somewhere",
		Area:      "Atlantis",
	}); err == nil {
		t.Fatalf("unknown area should be rejected")
	}
	if _, err := env.Engine.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: "garbage",
		Location:  "   ",
		Area:      "Adyar",
	}); err == nil {
		t.Fatalf("blank location should be rejected")
	}
}

func TestAdvanceToTerminalResolves(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: "pothole", Location: "LB Road", Area: "Adyar", ActorID: "citizen-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, stage := range []string{"verified", "assigned", "in_progress", "resolved"} {
		c, err = env.Engine.AdvanceComplaint(env.Ctx, engine.AdvanceOptions{
			ID: c.ID, Stage: stage, ActorID: "officer-1", Strict: true,
		})
		if err != nil {
			t.Fatalf("advance to %s: %v", stage, err)
		}
	}
	if c.Status != workflow.StatusResolved {
		t.Fatalf("status = %q, want resolved", c.Status)
	}
	if got := workflow.CurrentStage(c); got != "resolved" {
		t.Fatalf("stage = %q, want resolved", got)
	}
	if len(c.Progress) != 5 {
		t.Fatalf("progress entries = %d, want 5", len(c.Progress))
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, "complaint.resolved", "", c.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected a complaint.resolved event")
	}
}

func TestAdvanceStrictRejectsSkips(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: "sewage", Location: "Canal Bank Road", Area: "Mylapore",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.AdvanceComplaint(env.Ctx, engine.AdvanceOptions{
		ID: c.ID, Stage: "in_progress", Strict: true,
	}); err == nil {
		t.Fatalf("strict advance should reject skipping stages")
	}
	// permissive mode accepts the same jump
	c, err = env.Engine.AdvanceComplaint(env.Ctx, engine.AdvanceOptions{
		ID: c.ID, Stage: "in_progress",
	})
	if err != nil {
		t.Fatalf("permissive advance: %v", err)
	}
	if got := workflow.CurrentStage(c); got != "in_progress" {
		t.Fatalf("stage = %q, want in_progress", got)
	}
}

func TestAdvanceUnknownStageAndComplaint(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AdvanceComplaint(env.Ctx, engine.AdvanceOptions{
		ID: "UW-000000", Stage: "warp",
	}); err == nil {
		t.Fatalf("unknown stage should be rejected")
	}
	if _, err := env.Engine.AdvanceComplaint(env.Ctx, engine.AdvanceOptions{
		ID: "UW-000000", Stage: "verified",
	}); err == nil {
		t.Fatalf("unknown complaint should be rejected")
	}
}

func TestTrackComplaint(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: "water-leak", Location: "Besant Avenue", Area: "Adyar",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := env.Engine.TrackComplaint(env.Ctx, c.ID)
	if err != nil || got == nil {
		t.Fatalf("track %s: %v %v", c.ID, got, err)
	}

	// bare numeric id implies the UW- prefix
	got, err = env.Engine.TrackComplaint(env.Ctx, strings.TrimPrefix(c.ID, "UW-"))
	if err != nil || got == nil {
		t.Fatalf("track bare id: %v %v", got, err)
	}

	got, err = env.Engine.TrackComplaint(env.Ctx, "UW-999999")
	if err != nil {
		t.Fatalf("track unknown: %v", err)
	}
	if got != nil {
		t.Fatalf("unknown id should yield nil, got %+v", got)
	}
}

func TestSeedIfEmpty(t *testing.T) {
	env := newTestEnv(t)
	seeded, err := env.Engine.SeedIfEmpty(env.Ctx, "system")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if seeded == nil || seeded.ID != "UW-882731" {
		t.Fatalf("seeded = %+v", seeded)
	}
	// seed is already past its deadline
	if !workflow.IsBreaching(*seeded, env.Now) {
		t.Fatalf("seed complaint should be breaching at startup")
	}

	again, err := env.Engine.SeedIfEmpty(env.Ctx, "system")
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if again != nil {
		t.Fatalf("non-empty registry must not be reseeded")
	}
}
