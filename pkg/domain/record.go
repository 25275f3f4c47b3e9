package domain

import "time"

// SessionRecord describes an active aggregation session, as kept by a SessionRegistry.
type SessionRecord struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Location     string    `json:"location,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}
