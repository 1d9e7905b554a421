package workflow

import (
	"fmt"
	"time"

	"github.com/mp21695/urbanwatch/internal/domain"
)

// Stage is one step of the fixed resolution pipeline.
type Stage struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Stages is the ordered resolution pipeline shared process-wide.
// The last entry is the terminal stage.
var Stages = []Stage{
	{ID: "submitted", Title: "Submitted", Description: "Complaint registered"},
	{ID: "verified", Title: "Verified", Description: "Evidence validated"},
	{ID: "assigned", Title: "Assigned", Description: "Tasked to department"},
	{ID: "in_progress", Title: "In Progress", Description: "Work in field"},
	{ID: "resolved", Title: "Resolved", Description: "Issue fixed"},
}

const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
)

// DefaultSLAHours maps issue categories to their mandated hours-to-resolution.
var DefaultSLAHours = map[string]int{
	"streetlight": 72,
	"pothole":     168,
	"water-leak":  48,
	"garbage":     24,
	"sewage":      24,
	"road-damage": 336,
	"other":       72,
}

// IssueLabels maps issue categories to their public display names.
var IssueLabels = map[string]string{
	"streetlight": "Streetlight Not Working",
	"pothole":     "Pothole",
	"water-leak":  "Water Leak",
	"garbage":     "Garbage Not Collected",
	"sewage":      "Sewage Overflow",
	"road-damage": "Road Damage",
	"other":       "Other Civic Issue",
}

// Areas lists the administrative zones complaints can be filed against.
var Areas = []string{
	"Pallavaram",
	"Anna Nagar",
	"T. Nagar",
	"Adyar",
	"Velachery",
	"Tambaram",
	"Mylapore",
}

func TerminalStage() string {
	return Stages[len(Stages)-1].ID
}

func ValidStage(id string) bool {
	return stageIndex(id) >= 0
}

func ValidIssueType(t string) bool {
	_, ok := DefaultSLAHours[t]
	return ok
}

func ValidArea(area string) bool {
	for _, a := range Areas {
		if a == area {
			return true
		}
	}
	return false
}

// IssueLabel returns the display label for an issue category, falling back
// to the raw category id.
func IssueLabel(t string) string {
	if l, ok := IssueLabels[t]; ok {
		return l
	}
	return t
}

// SLAHoursFor returns the default SLA window for an issue category.
func SLAHoursFor(t string) int {
	if h, ok := DefaultSLAHours[t]; ok {
		return h
	}
	return DefaultSLAHours["other"]
}

// CurrentStage returns the stage id of the latest progress entry.
func CurrentStage(c domain.Complaint) string {
	if len(c.Progress) == 0 {
		return Stages[0].ID
	}
	return c.Progress[len(c.Progress)-1].Stage
}

// CompletionRatio reports how far along the pipeline a complaint is, as
// progress entries over catalog length. Monotone in sequence length only.
func CompletionRatio(c domain.Complaint) float64 {
	r := float64(len(c.Progress)) / float64(len(Stages))
	if r > 1 {
		r = 1
	}
	return r
}

// IsBreaching reports whether the complaint exceeded its SLA window at the
// given instant. Breach is derived fresh on every call from (status,
// created, now); it is never stored, so a complaint can become breaching
// without any write occurring.
func IsBreaching(c domain.Complaint, now time.Time) bool {
	if c.Status != StatusPending {
		return false
	}
	created, err := time.Parse(time.RFC3339, c.CreatedAt)
	if err != nil {
		return false
	}
	return now.Sub(created).Hours() > float64(c.SLAHours)
}

// ValidateTransition enforces the forward-only stage order: only the next
// catalog stage is legal, and the terminal stage accepts no transitions.
// Callers wanting the permissive original behavior (any stage, any order)
// simply skip this check.
func ValidateTransition(current, next string) error {
	ni := stageIndex(next)
	if ni < 0 {
		return fmt.Errorf("unknown stage %s", next)
	}
	if current == TerminalStage() {
		return fmt.Errorf("complaint already resolved")
	}
	ci := stageIndex(current)
	if ci < 0 {
		return fmt.Errorf("unknown stage %s", current)
	}
	if ni != ci+1 {
		return fmt.Errorf("invalid stage transition %s -> %s", current, next)
	}
	return nil
}

func stageIndex(id string) int {
	for i, s := range Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}
