package types

import "time"

// Claim is exclusive ownership of one tab by one session.
type Claim struct {
	TabID      int       `json:"tabId"`
	SessionID  string    `json:"sessionId"`
	ClaimedAt  time.Time `json:"claimedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// SessionState is per-session bookkeeping that does not belong to a tab.
type SessionState struct {
	SessionID    string    `json:"sessionId"`
	DefaultTabID *int      `json:"defaultTabId"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// Status is the payload of the status operation.
type Status struct {
	Connected bool          `json:"connected"`
	Backend   string        `json:"backend"`
	Claims    []Claim       `json:"claims"`
	TTLMs     int64         `json:"ttlMs"`
	Session   *SessionState `json:"session"`
}
