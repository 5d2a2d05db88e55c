package backend

import "time"

// Contact status values owned by the configuration store. The dialer only
// patches these; it never owns the records.
const (
	ContactPending   = "pending"
	ContactDialing   = "dialing"
	ContactAnswered  = "answered"
	ContactNoAnswer  = "no_answer"
	ContactBusy      = "busy"
	ContactFailed    = "failed"
	ContactCompleted = "completed"
)

// Agent status values that count as ready to take a call.
const (
	AgentAvailable = "available"
	AgentIdle      = "idle"
)

// Campaign is the dialing configuration read from the backend.
type Campaign struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DialMode    string  `json:"dial_mode"`
	PacingRatio float64 `json:"pacing_ratio"`

	MaxConcurrentCalls int `json:"max_concurrent_calls"`
	MaxRetries         int `json:"max_retries"`

	// RetryDelaySeconds is the minimum wait before re-dialing a busy or
	// unanswered contact. The backend enforces a 60s floor.
	RetryDelaySeconds int `json:"retry_delay"`

	QueueName string `json:"queue_name"`
	Trunk     string `json:"trunk"`
	CallerID  string `json:"caller_id"`
	Context   string `json:"context"`

	Status string `json:"status"`
}

// RetryDelay returns the retry delay as a duration.
func (c Campaign) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Contact is one dialing target within a campaign.
type Contact struct {
	ID          string `json:"id"`
	CampaignID  string `json:"campaign_id"`
	PhoneNumber string `json:"phone_number"`

	// Priority is 1-10; higher dials first.
	Priority int `json:"priority"`

	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`

	Status string `json:"status"`
}

// Agent is a queue member with a presence status.
type Agent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CampaignStats is the counter snapshot pushed back to the backend on the
// statistics refresh tick.
type CampaignStats struct {
	ActiveCalls   int64   `json:"active_calls"`
	TotalCalls    int64   `json:"total_calls"`
	AnsweredCalls int64   `json:"answered_calls"`
	AnswerRate    float64 `json:"answer_rate"`
}
