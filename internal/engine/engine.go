package engine

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mp21695/urbanwatch/internal/config"
	"github.com/mp21695/urbanwatch/internal/domain"
	"github.com/mp21695/urbanwatch/internal/events"
	"github.com/mp21695/urbanwatch/internal/repo"
	"github.com/mp21695/urbanwatch/internal/workflow"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// NewComplaintID mints a citizen-facing case id of the form UW-123456.
func NewComplaintID() string {
	u := uuid.New()
	n := binary.BigEndian.Uint32(u[0:4])%900000 + 100000
	return fmt.Sprintf("UW-%d", n)
}

// SubmitOptions are parameters for filing a complaint.
type SubmitOptions struct {
	IssueType   string
	Location    string
	Area        string
	Description string
	Contact     string
	SLAHours    int // zero means the category default
	ActorID     string
}

// SubmitComplaint files a new complaint with the initial submitted stage.
func (e Engine) SubmitComplaint(ctx context.Context, opts SubmitOptions) (domain.Complaint, error) {
	if e.Config == nil {
		return domain.Complaint{}, errors.New("config not loaded")
	}
	if !workflow.ValidIssueType(opts.IssueType) {
		return domain.Complaint{}, fmt.Errorf("unknown issue category %s", opts.IssueType)
	}
	if !workflow.ValidArea(opts.Area) {
		return domain.Complaint{}, fmt.Errorf("unknown area %s", opts.Area)
	}
	if strings.TrimSpace(opts.Location) == "" {
		return domain.Complaint{}, errors.New("location is required")
	}
	slaHours := opts.SLAHours
	if slaHours <= 0 {
		slaHours = e.Config.SLAHoursFor(opts.IssueType)
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Complaint{
		ID:          NewComplaintID(),
		IssueType:   opts.IssueType,
		Location:    opts.Location,
		Area:        opts.Area,
		Description: opts.Description,
		Contact:     opts.Contact,
		Status:      workflow.StatusPending,
		SLAHours:    slaHours,
		Progress: []domain.ProgressEntry{
			{Stage: workflow.Stages[0].ID, Timestamp: now, Completed: true},
		},
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertComplaint(ctx, tx, c); err != nil {
		return domain.Complaint{}, fmt.Errorf("insert complaint: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "complaint.submitted", "complaint", c.ID, opts.ActorID, events.EventPayload{
		"issue_type": c.IssueType,
		"area":       c.Area,
		"sla_hours":  c.SLAHours,
	}); err != nil {
		return domain.Complaint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Complaint{}, err
	}
	return c, nil
}

// AdvanceOptions are parameters for moving a complaint along the pipeline.
type AdvanceOptions struct {
	ID      string
	Stage   string
	Note    string
	ActorID string
	// Strict enforces the forward-only stage order. The default accepts
	// any stage in any order, matching the permissive original workflow.
	Strict bool
}

// AdvanceComplaint appends a progress entry. Reaching the terminal stage
// flips the stored status to resolved; any other stage keeps or returns it
// to pending.
func (e Engine) AdvanceComplaint(ctx context.Context, opts AdvanceOptions) (domain.Complaint, error) {
	if !workflow.ValidStage(opts.Stage) {
		return domain.Complaint{}, fmt.Errorf("unknown stage %s", opts.Stage)
	}
	c, err := e.Repo.GetComplaint(ctx, opts.ID)
	if err != nil {
		return c, err
	}
	if opts.Strict {
		if err := workflow.ValidateTransition(workflow.CurrentStage(c), opts.Stage); err != nil {
			return c, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	entry := domain.ProgressEntry{Stage: opts.Stage, Timestamp: now, Completed: true, Note: opts.Note}
	status := workflow.StatusPending
	if opts.Stage == workflow.TerminalStage() {
		status = workflow.StatusResolved
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if err := e.Repo.AppendProgress(ctx, tx, c.ID, entry); err != nil {
		return c, err
	}
	if status != c.Status {
		if err := e.Repo.SetComplaintStatus(ctx, tx, c.ID, status); err != nil {
			return c, err
		}
	}
	if err := e.Events.Append(ctx, tx, "complaint.advanced", "complaint", c.ID, opts.ActorID, events.EventPayload{
		"stage":  opts.Stage,
		"status": status,
	}); err != nil {
		return c, err
	}
	if status == workflow.StatusResolved && c.Status != workflow.StatusResolved {
		if err := e.Events.Append(ctx, tx, "complaint.resolved", "complaint", c.ID, opts.ActorID, events.EventPayload{}); err != nil {
			return c, err
		}
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	c.Status = status
	c.Progress = append(c.Progress, entry)
	return c, nil
}

// TrackComplaint looks up a complaint by its case id. Absence is an
// expected outcome for citizens typing ids by hand, so an unknown id
// returns (nil, nil) rather than an error. A bare numeric id is accepted
// with the UW- prefix implied.
func (e Engine) TrackComplaint(ctx context.Context, id string) (*domain.Complaint, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	c, err := e.Repo.GetComplaint(ctx, id)
	if errors.Is(err, repo.ErrNotFound) && !strings.HasPrefix(id, "UW-") {
		c, err = e.Repo.GetComplaint(ctx, "UW-"+id)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SeedIfEmpty inserts a demonstration complaint when the registry has no
// records, so a fresh install has something to track and breach. Returns
// the seeded complaint, or nil when the registry was not empty.
func (e Engine) SeedIfEmpty(ctx context.Context, actorID string) (*domain.Complaint, error) {
	existing, err := e.Repo.ListComplaints(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}
	created := e.now().Add(-4 * 24 * time.Hour).UTC().Format(time.RFC3339)
	seed := domain.Complaint{
		ID:          "UW-882731",
		IssueType:   "streetlight",
		Location:    "GST Road Junction",
		Area:        workflow.Areas[0],
		Description: "Entire block is dark for 3 days.",
		Status:      workflow.StatusPending,
		SLAHours:    72,
		Progress: []domain.ProgressEntry{
			{Stage: workflow.Stages[0].ID, Timestamp: created, Completed: true},
		},
		CreatedAt: created,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComplaint(ctx, tx, seed); err != nil {
		return nil, fmt.Errorf("insert seed complaint: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "complaint.submitted", "complaint", seed.ID, actorID, events.EventPayload{
		"issue_type": seed.IssueType,
		"area":       seed.Area,
		"seed":       true,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &seed, nil
}
