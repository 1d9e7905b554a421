package server

import (
	"encoding/json"
	"time"

	"github.com/mp21695/urbanwatch/internal/domain"
	"github.com/mp21695/urbanwatch/internal/monitor"
	"github.com/mp21695/urbanwatch/internal/workflow"
)

// Request payloads

type SubmitComplaintRequest struct {
	IssueType   string `json:"issue_type" enum:"streetlight,pothole,water-leak,garbage,sewage,road-damage,other"`
	Location    string `json:"location"`
	Area        string `json:"area"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
	SLAHours    *int   `json:"sla_hours,omitempty"`
}

type AdvanceComplaintRequest struct {
	Stage  string `json:"stage" enum:"submitted,verified,assigned,in_progress,resolved"`
	Note   string `json:"note,omitempty"`
	Strict bool   `json:"strict,omitempty"`
}

// Response payloads

type ProgressResponse struct {
	Stage     string `json:"stage" enum:"submitted,verified,assigned,in_progress,resolved"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Completed bool   `json:"completed"`
	Note      string `json:"note,omitempty"`
}

type ComplaintResponse struct {
	ID           string             `json:"id"`
	IssueType    string             `json:"issue_type"`
	IssueLabel   string             `json:"issue_label"`
	Location     string             `json:"location"`
	Area         string             `json:"area"`
	Description  string             `json:"description,omitempty"`
	Status       string             `json:"status" enum:"pending,resolved"`
	SLAHours     int                `json:"sla_hours"`
	CurrentStage string             `json:"current_stage"`
	Completion   float64            `json:"completion"`
	Breaching    bool               `json:"breaching"`
	Progress     []ProgressResponse `json:"progress"`
	CreatedAt    string             `json:"created_at" format:"date-time"`
}

type ArticleResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Area        string `json:"area"`
	IssueType   string `json:"issue_type"`
	BreachCount int    `json:"breach_count"`
	AIGenerated bool   `json:"ai_generated"`
	PublishedAt string `json:"published_at" format:"date-time"`
}

type StageResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type ScanResponse struct {
	Groups    int `json:"groups"`
	Published int `json:"published"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func complaintResponse(c domain.Complaint, now time.Time) ComplaintResponse {
	progress := make([]ProgressResponse, 0, len(c.Progress))
	for _, p := range c.Progress {
		progress = append(progress, ProgressResponse{
			Stage:     p.Stage,
			Timestamp: p.Timestamp,
			Completed: p.Completed,
			Note:      p.Note,
		})
	}
	return ComplaintResponse{
		ID:           c.ID,
		IssueType:    c.IssueType,
		IssueLabel:   workflow.IssueLabel(c.IssueType),
		Location:     c.Location,
		Area:         c.Area,
		Description:  c.Description,
		Status:       c.Status,
		SLAHours:     c.SLAHours,
		CurrentStage: workflow.CurrentStage(c),
		Completion:   workflow.CompletionRatio(c),
		Breaching:    workflow.IsBreaching(c, now),
		Progress:     progress,
		CreatedAt:    c.CreatedAt,
	}
}

func mapComplaints(items []domain.Complaint, now time.Time) []ComplaintResponse {
	out := make([]ComplaintResponse, 0, len(items))
	for _, c := range items {
		out = append(out, complaintResponse(c, now))
	}
	return out
}

func articleResponse(a domain.Article) ArticleResponse {
	return ArticleResponse{
		ID:          a.ID,
		Title:       a.Title,
		Body:        a.Body,
		Area:        a.Area,
		IssueType:   a.IssueType,
		BreachCount: a.BreachCount,
		AIGenerated: a.AIGenerated,
		PublishedAt: a.PublishedAt,
	}
}

func mapArticles(items []domain.Article) []ArticleResponse {
	out := make([]ArticleResponse, 0, len(items))
	for _, a := range items {
		out = append(out, articleResponse(a))
	}
	return out
}

func stageResponses() []StageResponse {
	out := make([]StageResponse, 0, len(workflow.Stages))
	for _, s := range workflow.Stages {
		out = append(out, StageResponse{ID: s.ID, Title: s.Title, Description: s.Description})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func scanResponse(rep monitor.CycleReport) ScanResponse {
	return ScanResponse(rep)
}
