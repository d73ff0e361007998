// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Event is a single scheduled event. A recurring series uses one Event as
// its template; replacement events for modified occurrences carry the
// series ID and the day they replace.
type Event struct {
	ID           string     `db:"id" json:"id"`
	Title        string     `db:"title" json:"title"`
	Description  string     `db:"description" json:"description"`
	StartDate    time.Time  `db:"start_date" json:"start_date"`
	EndDate      time.Time  `db:"end_date" json:"end_date"`
	Timezone     string     `db:"timezone" json:"timezone"`
	Mode         string     `db:"mode" json:"mode"`
	Location     *string    `db:"location" json:"location,omitempty"`
	VirtualLink  *string    `db:"virtual_link" json:"virtual_link,omitempty"`
	Visibility   string     `db:"visibility" json:"visibility"`
	AccessPolicy string     `db:"access_policy" json:"access_policy"`
	Price        *float64   `db:"price" json:"price,omitempty"`
	Currency     *string    `db:"currency" json:"currency,omitempty"`
	RequiredTier *string    `db:"required_tier" json:"required_tier,omitempty"`
	CreatorID    string     `db:"creator_id" json:"creator_id"`
	Status       string     `db:"status" json:"status"`
	SeriesID     *string    `db:"series_id" json:"series_id,omitempty"`
	OriginalDate *string    `db:"original_date" json:"original_date,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Duration returns the length of the event.
func (e *Event) Duration() time.Duration {
	return e.EndDate.Sub(e.StartDate)
}

// IsPublic reports whether anyone may see the event.
func (e *Event) IsPublic() bool {
	return e.Visibility == VisibilityPublic
}

// Event status constants
const (
	EventStatusDraft     = "DRAFT"
	EventStatusPublished = "PUBLISHED"
	EventStatusCancelled = "CANCELLED"
	EventStatusCompleted = "COMPLETED"
)

// Event mode constants
const (
	ModeInPerson = "in_person"
	ModeOnline   = "online"
	ModeHybrid   = "hybrid"
)

// Visibility constants
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Access policy constants
const (
	AccessFree = "free"
	AccessPaid = "paid"
	AccessTier = "tier"
)

// Registration links a user to an event they signed up for.
type Registration struct {
	EventID   string    `db:"event_id" json:"event_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
