package store

import "time"

type Wedding struct {
	ID                  string     `json:"id"`
	CoupleName          string     `json:"coupleName"`
	EventDate           *time.Time `json:"eventDate,omitempty"`
	EscalationHandledAt *time.Time `json:"escalationHandledAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// InboxEntry is a webhook delivery waiting to be synced.
type InboxEntry struct {
	Seq        int64
	Provider   string
	ExternalID string
	Payload    []byte
	ReceivedAt time.Time
}
