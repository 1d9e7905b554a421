package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mp21695/urbanwatch/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const complaintColumns = `id,issue_type,location,area,COALESCE(description,''),COALESCE(contact,''),status,sla_hours,created_at`

func (r Repo) InsertComplaint(ctx context.Context, tx *sql.Tx, c domain.Complaint) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO complaints(id,issue_type,location,area,description,contact,status,sla_hours,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.IssueType, c.Location, c.Area, nullable(c.Description), nullable(c.Contact), c.Status, c.SLAHours, c.CreatedAt); err != nil {
		return err
	}
	for _, p := range c.Progress {
		if err := r.AppendProgress(ctx, tx, c.ID, p); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) AppendProgress(ctx context.Context, tx *sql.Tx, complaintID string, p domain.ProgressEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO complaint_progress(complaint_id,stage,ts,completed,note) VALUES (?,?,?,?,?)`,
		complaintID, p.Stage, p.Timestamp, boolToInt(p.Completed), nullable(p.Note))
	return err
}

func (r Repo) SetComplaintStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE complaints SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ComplaintUpdates carries optional field updates; nil fields are preserved.
type ComplaintUpdates struct {
	Location    *string
	Description *string
	Contact     *string
	Status      *string
	SLAHours    *int
}

// UpdateComplaint merges the set fields into an existing record.
func (r Repo) UpdateComplaint(ctx context.Context, id string, u ComplaintUpdates) error {
	var (
		fields []string
		args   []any
	)
	if u.Location != nil {
		fields = append(fields, "location=?")
		args = append(args, *u.Location)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*u.Description))
	}
	if u.Contact != nil {
		fields = append(fields, "contact=?")
		args = append(args, nullable(*u.Contact))
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.SLAHours != nil {
		fields = append(fields, "sla_hours=?")
		args = append(args, *u.SLAHours)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE complaints SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetComplaint(ctx context.Context, id string) (domain.Complaint, error) {
	var c domain.Complaint
	err := r.DB.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id=?`, id).
		Scan(&c.ID, &c.IssueType, &c.Location, &c.Area, &c.Description, &c.Contact, &c.Status, &c.SLAHours, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Progress, err = r.listProgress(ctx, c.ID)
	return c, err
}

// ListComplaints returns all complaints newest-first with their progress
// histories loaded.
func (r Repo) ListComplaints(ctx context.Context) ([]domain.Complaint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+complaintColumns+` FROM complaints ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Complaint
	for rows.Next() {
		var c domain.Complaint
		if err := rows.Scan(&c.ID, &c.IssueType, &c.Location, &c.Area, &c.Description, &c.Contact, &c.Status, &c.SLAHours, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		progress, err := r.listProgress(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Progress = progress
	}
	return res, nil
}

func (r Repo) listProgress(ctx context.Context, complaintID string) ([]domain.ProgressEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage,ts,completed,COALESCE(note,'') FROM complaint_progress WHERE complaint_id=? ORDER BY id ASC`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.ProgressEntry
	for rows.Next() {
		var p domain.ProgressEntry
		var completed int
		if err := rows.Scan(&p.Stage, &p.Timestamp, &completed, &p.Note); err != nil {
			return nil, err
		}
		p.Completed = completed != 0
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

func (r Repo) CountComplaintsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM complaints GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) InsertArticle(ctx context.Context, tx *sql.Tx, a domain.Article) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO articles(id,title,body,area,issue_type,breach_count,ai_generated,published_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.Body, a.Area, a.IssueType, a.BreachCount, boolToInt(a.AIGenerated), a.PublishedAt)
	return err
}

// ListArticles returns all disclosures ordered by publication date descending.
func (r Repo) ListArticles(ctx context.Context) ([]domain.Article, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,body,area,issue_type,breach_count,ai_generated,published_at FROM articles ORDER BY published_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Article
	for rows.Next() {
		var a domain.Article
		var aiGenerated int
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.Area, &a.IssueType, &a.BreachCount, &aiGenerated, &a.PublishedAt); err != nil {
			return nil, err
		}
		a.AIGenerated = aiGenerated != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

// LatestEvents returns the newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 20
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity, actor, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &actor, &payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if actor.Valid {
			e.ActorID = actor.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
