package monitor_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mp21695/urbanwatch/internal/config"
	"github.com/mp21695/urbanwatch/internal/db"
	"github.com/mp21695/urbanwatch/internal/domain"
	"github.com/mp21695/urbanwatch/internal/engine"
	"github.com/mp21695/urbanwatch/internal/migrate"
	"github.com/mp21695/urbanwatch/internal/monitor"
	"github.com/mp21695/urbanwatch/internal/repo"
)

type generatorCall struct {
	Area       string
	IssueLabel string
	Count      int
}

// recordingGenerator captures every call and answers from a script.
type recordingGenerator struct {
	mu    sync.Mutex
	calls []generatorCall
	err   error
	body  string
	block chan struct{}
}

func (g *recordingGenerator) Generate(ctx context.Context, area, issueLabel string, complaints []domain.Complaint) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, generatorCall{Area: area, IssueLabel: issueLabel, Count: len(complaints)})
	block := g.block
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	if g.err != nil {
		return "", g.err
	}
	return g.body, nil
}

func (g *recordingGenerator) Calls() []generatorCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generatorCall(nil), g.calls...)
}

type testEnv struct {
	DB     *sql.DB
	Engine engine.Engine
	Repo   repo.Repo
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
	return testEnv{DB: conn, Engine: eng, Repo: repo.Repo{DB: conn}, Ctx: context.Background(), Now: now}
}

func (env testEnv) newMonitor(gen *recordingGenerator) monitor.Monitor {
	m := monitor.New(env.DB, gen)
	m.Now = func() time.Time { return env.Now }
	return m
}

// submitAged files a complaint whose created_at lies hoursAgo in the past.
func (env testEnv) submitAged(t *testing.T, issueType, area string, hoursAgo int) domain.Complaint {
	t.Helper()
	aged := env.Engine
	aged.Now = func() time.Time { return env.Now.Add(-time.Duration(hoursAgo) * time.Hour) }
	c, err := aged.SubmitComplaint(env.Ctx, engine.SubmitOptions{
		IssueType: issueType,
		Location:  "Main Road",
		Area:      area,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return c
}

func TestGroupBreachesOrderingAndMembership(t *testing.T) {
	env := newTestEnv(t)
	env.submitAged(t, "garbage", "Velachery", 30)
	env.submitAged(t, "garbage", "Velachery", 40)
	env.submitAged(t, "garbage", "Adyar", 30)
	env.submitAged(t, "sewage", "Adyar", 30)
	env.submitAged(t, "garbage", "Adyar", 1) // within deadline, excluded

	complaints, err := env.Repo.ListComplaints(env.Ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	groups := monitor.GroupBreaches(complaints, env.Now)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	wantKeys := []string{"Adyar|garbage", "Adyar|sewage", "Velachery|garbage"}
	for i, g := range groups {
		if g.Key() != wantKeys[i] {
			t.Fatalf("group %d key = %q, want %q", i, g.Key(), wantKeys[i])
		}
	}
	if len(groups[0].Complaints) != 1 || len(groups[2].Complaints) != 2 {
		t.Fatalf("unexpected group sizes: %d, %d", len(groups[0].Complaints), len(groups[2].Complaints))
	}
}

func TestRunCyclePublishesOnePerGroup(t *testing.T) {
	env := newTestEnv(t)
	env.submitAged(t, "garbage", "Adyar", 30)
	env.submitAged(t, "garbage", "Adyar", 48)
	env.submitAged(t, "streetlight", "Tambaram", 100)

	gen := &recordingGenerator{body: "generated body"}
	m := env.newMonitor(gen)

	rep, err := m.RunCycle(env.Ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if rep.Groups != 2 || rep.Published != 2 || rep.Skipped != 0 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}

	calls := gen.Calls()
	if len(calls) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(calls))
	}
	if calls[0].Area != "Adyar" || calls[0].Count != 2 {
		t.Fatalf("first call = %+v", calls[0])
	}
	if calls[1].Area != "Tambaram" || calls[1].IssueLabel != "Streetlight Not Working" {
		t.Fatalf("second call = %+v", calls[1])
	}

	articles, err := env.Repo.ListArticles(env.Ctx)
	if err != nil {
		t.Fatalf("articles: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("articles = %d, want 2", len(articles))
	}
	for _, a := range articles {
		if a.Title != "Report: Service Delay in "+a.Area {
			t.Fatalf("title = %q", a.Title)
		}
		if !a.AIGenerated || a.Body != "generated body" {
			t.Fatalf("article = %+v", a)
		}
	}
}

func TestRunCycleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.submitAged(t, "garbage", "Adyar", 30)

	gen := &recordingGenerator{body: "generated body"}
	m := env.newMonitor(gen)

	if _, err := m.RunCycle(env.Ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	rep, err := m.RunCycle(env.Ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if rep.Published != 0 || rep.Skipped != 1 {
		t.Fatalf("second cycle report = %+v", rep)
	}
	if calls := gen.Calls(); len(calls) != 1 {
		t.Fatalf("generator calls = %d, want 1 total", len(calls))
	}
	articles, _ := env.Repo.ListArticles(env.Ctx)
	if len(articles) != 1 {
		t.Fatalf("articles = %d, want 1", len(articles))
	}
}

func TestRunCycleRetriesFailedGroups(t *testing.T) {
	env := newTestEnv(t)
	env.submitAged(t, "garbage", "Adyar", 30)

	gen := &recordingGenerator{err: errors.New("model unreachable")}
	m := env.newMonitor(gen)

	rep, err := m.RunCycle(env.Ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if rep.Failed != 1 || rep.Published != 0 {
		t.Fatalf("report = %+v", rep)
	}
	articles, _ := env.Repo.ListArticles(env.Ctx)
	if len(articles) != 0 {
		t.Fatalf("failed generation must not publish, got %d articles", len(articles))
	}
	events, err := env.Repo.LatestEvents(env.Ctx, 5, "article.generate.failed", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected a generate.failed event")
	}

	// next cycle retries, no negative cache
	gen.err = nil
	gen.body = "recovered"
	rep, err = m.RunCycle(env.Ctx)
	if err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if rep.Published != 1 {
		t.Fatalf("retry report = %+v", rep)
	}
	if calls := gen.Calls(); len(calls) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(calls))
	}
}

func TestRunCycleEmptyBodyFallback(t *testing.T) {
	env := newTestEnv(t)
	env.submitAged(t, "garbage", "Adyar", 30)

	gen := &recordingGenerator{body: ""}
	m := env.newMonitor(gen)
	if _, err := m.RunCycle(env.Ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	articles, _ := env.Repo.ListArticles(env.Ctx)
	if len(articles) != 1 || articles[0].Body != "No report generated." {
		t.Fatalf("articles = %+v", articles)
	}
}

func TestMonitorNeverMutatesComplaints(t *testing.T) {
	env := newTestEnv(t)
	c := env.submitAged(t, "garbage", "Adyar", 30)

	gen := &recordingGenerator{body: "generated body"}
	m := env.newMonitor(gen)
	if _, err := m.RunCycle(env.Ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	after, err := env.Repo.GetComplaint(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != c.Status || len(after.Progress) != len(c.Progress) {
		t.Fatalf("monitor mutated complaint: %+v", after)
	}
}

func TestSchedulerSingleFlight(t *testing.T) {
	env := newTestEnv(t)
	env.submitAged(t, "garbage", "Adyar", 30)

	gen := &recordingGenerator{body: "generated body", block: make(chan struct{})}
	sched := &monitor.Scheduler{Monitor: env.newMonitor(gen)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ran, err := sched.TryRun(env.Ctx); err != nil || !ran {
			t.Errorf("first run: ran=%t err=%v", ran, err)
		}
	}()

	// wait for the first cycle to reach the blocked generator
	deadline := time.After(5 * time.Second)
	for {
		if len(gen.Calls()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, ran, err := sched.TryRun(env.Ctx); err != nil || ran {
		t.Fatalf("overlapping run should be refused, ran=%t err=%v", ran, err)
	}

	close(gen.block)
	<-done

	if _, ran, err := sched.TryRun(env.Ctx); err != nil || !ran {
		t.Fatalf("run after completion should proceed, ran=%t err=%v", ran, err)
	}
}
