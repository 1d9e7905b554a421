package domain

// ProgressEntry is one step in a complaint's resolution history. Entries
// are appended, never removed or reordered.
type ProgressEntry struct {
	Stage     string `json:"stage"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Completed bool   `json:"completed"`
	Note      string `json:"note,omitempty"`
}

type Complaint struct {
	ID          string          `json:"id"`
	IssueType   string          `json:"issue_type" enum:"streetlight,pothole,water-leak,garbage,sewage,road-damage,other"`
	Location    string          `json:"location"`
	Area        string          `json:"area"`
	Description string          `json:"description,omitempty"`
	Contact     string          `json:"contact,omitempty"`
	Status      string          `json:"status" enum:"pending,resolved"`
	SLAHours    int             `json:"sla_hours"`
	Progress    []ProgressEntry `json:"progress"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
}

// Article is a published transparency disclosure covering one
// (area, issue type) breach pattern.
type Article struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Area        string `json:"area"`
	IssueType   string `json:"issue_type"`
	BreachCount int    `json:"breach_count"`
	AIGenerated bool   `json:"ai_generated"`
	PublishedAt string `json:"published_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
