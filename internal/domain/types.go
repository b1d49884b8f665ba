package domain

import "time"

type Project struct {
	ID          int64
	Key         string
	Name        string
	Description string
}

type User struct {
	ID          int64
	ExternalID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

type Ticket struct {
	ID         int64
	JiraID     string
	ProjectID  int64
	AssigneeID *int64

	Summary     string
	Description string
	Status      string
	Priority    string
	IssueType   string
	Customer    string
	// Delimited label membership string, e.g. ",bug,backend,". See labels.go.
	Labels string

	StoryPoints  *int
	TimeEstimate *float64 // hours
	TimeSpent    *float64 // hours

	CreatedAt  time.Time
	UpdatedAt  *time.Time
	StartedAt  *time.Time
	ResolvedAt *time.Time
}

type Commit struct {
	ID        int64
	Hash      string
	Message   string
	CreatedAt time.Time
	ProjectID int64
	TicketID  *int64
	AuthorID  *int64
}

// SyncRun records one ingestion pass for the admin endpoint.
type SyncRun struct {
	ID         int64      `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Processed  int        `json:"processed"`
	Success    bool       `json:"success"`
	Error      string     `json:"error"`
}
