package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mp21695/urbanwatch/internal/domain"
	"github.com/mp21695/urbanwatch/internal/events"
	"github.com/mp21695/urbanwatch/internal/report"
	"github.com/mp21695/urbanwatch/internal/repo"
	"github.com/mp21695/urbanwatch/internal/workflow"
)

// Group is a set of breaching complaints sharing an area and category.
type Group struct {
	Area       string
	IssueType  string
	Complaints []domain.Complaint
}

// Key identifies a group for deduplication against published articles.
func Key(area, issueType string) string {
	return area + "|" + issueType
}

func (g Group) Key() string {
	return Key(g.Area, g.IssueType)
}

// GroupBreaches buckets the breaching complaints by area and category.
// Groups come back in lexicographic key order so a cycle always processes
// them the same way.
func GroupBreaches(complaints []domain.Complaint, now time.Time) []Group {
	byKey := map[string]*Group{}
	for _, c := range complaints {
		if !workflow.IsBreaching(c, now) {
			continue
		}
		k := Key(c.Area, c.IssueType)
		g, ok := byKey[k]
		if !ok {
			g = &Group{Area: c.Area, IssueType: c.IssueType}
			byKey[k] = g
		}
		g.Complaints = append(g.Complaints, c)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, *byKey[k])
	}
	return groups
}

// CycleReport summarizes one monitor pass.
type CycleReport struct {
	Groups    int `json:"groups"`
	Published int `json:"published"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Monitor scans the registry for service-level breaches and publishes one
// disclosure article per breaching area and category.
type Monitor struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Generator report.Generator
	Now       func() time.Time
}

func New(db *sql.DB, gen report.Generator) Monitor {
	return Monitor{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Generator: gen,
		Now:       time.Now,
	}
}

func (m Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// RunCycle performs one scan. Generator or storage failures for a group
// are logged and the group is skipped; it will be retried on the next
// cycle because nothing records the failure against the group.
func (m Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	var rep CycleReport

	complaints, err := m.Repo.ListComplaints(ctx)
	if err != nil {
		return rep, fmt.Errorf("list complaints: %w", err)
	}
	articles, err := m.Repo.ListArticles(ctx)
	if err != nil {
		return rep, fmt.Errorf("list articles: %w", err)
	}

	now := m.now()
	published := map[string]bool{}
	for _, a := range articles {
		published[Key(a.Area, a.IssueType)] = true
	}

	groups := GroupBreaches(complaints, now)
	rep.Groups = len(groups)

	for _, g := range groups {
		if published[g.Key()] {
			rep.Skipped++
			continue
		}
		body, err := m.Generator.Generate(ctx, g.Area, workflow.IssueLabel(g.IssueType), g.Complaints)
		if err != nil {
			log.Printf("report generation failed for %s: %v", g.Key(), err)
			m.recordFailure(ctx, g, err)
			rep.Failed++
			continue
		}
		if body == "" {
			body = "No report generated."
		}
		a := domain.Article{
			ID:          uuid.NewString(),
			Title:       fmt.Sprintf("Report: Service Delay in %s", g.Area),
			Body:        body,
			Area:        g.Area,
			IssueType:   g.IssueType,
			BreachCount: len(g.Complaints),
			AIGenerated: true,
			PublishedAt: now.UTC().Format(time.RFC3339),
		}
		if err := m.publish(ctx, a); err != nil {
			log.Printf("article publish failed for %s: %v", g.Key(), err)
			rep.Failed++
			continue
		}
		published[g.Key()] = true
		rep.Published++
	}

	m.recordCompleted(ctx, rep)
	return rep, nil
}

func (m Monitor) publish(ctx context.Context, a domain.Article) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := m.Repo.InsertArticle(ctx, tx, a); err != nil {
		return err
	}
	if err := m.Events.Append(ctx, tx, "article.published", "article", a.ID, "", events.EventPayload{
		"area":         a.Area,
		"issue_type":   a.IssueType,
		"breach_count": a.BreachCount,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (m Monitor) recordFailure(ctx context.Context, g Group, cause error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("record failure: %v", err)
		return
	}
	defer tx.Rollback()
	if err := m.Events.Append(ctx, tx, "article.generate.failed", "article", g.Key(), "", events.EventPayload{
		"area":       g.Area,
		"issue_type": g.IssueType,
		"error":      cause.Error(),
	}); err != nil {
		log.Printf("record failure: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("record failure: %v", err)
	}
}

func (m Monitor) recordCompleted(ctx context.Context, rep CycleReport) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("record scan: %v", err)
		return
	}
	defer tx.Rollback()
	if err := m.Events.Append(ctx, tx, "scan.completed", "scan", "", "", events.EventPayload{
		"groups":    rep.Groups,
		"published": rep.Published,
		"skipped":   rep.Skipped,
		"failed":    rep.Failed,
	}); err != nil {
		log.Printf("record scan: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("record scan: %v", err)
	}
}
