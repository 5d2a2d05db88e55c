package counters

import (
	"context"
	"errors"
	"time"
)

// Campaign run-status values mirrored into the counter store so the control
// loop can enumerate active campaigns without touching the backend.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Counter field names inside a campaign hash.
const (
	FieldActiveCalls   = "active_calls"
	FieldTotalCalls    = "total_calls"
	FieldAnsweredCalls = "answered_calls"
)

var ErrNotFound = errors.New("counters: campaign not found")

// Counters is a point-in-time read of one campaign's volatile call counters.
type Counters struct {
	ActiveCalls   int64
	TotalCalls    int64
	AnsweredCalls int64
}

// Store holds per-campaign volatile counters and run-status.
//
// IMPORTANT:
// - IncrBy/DecrFloor must be atomic read-modify-write operations in the
//   store, never read-then-write from the caller; the executor and the event
//   reactor mutate the same hash concurrently.
// - DecrFloor clamps at zero so a duplicate lifecycle event can never drive
//   active_calls negative.
type Store interface {
	// Init creates the campaign hash in draft status with zeroed counters.
	Init(ctx context.Context, campaignID string) error

	Status(ctx context.Context, campaignID string) (string, error)

	// SetStatus writes the run-status; activation records started_at,
	// completion/cancellation records completed_at.
	SetStatus(ctx context.Context, campaignID, status string) error

	IncrBy(ctx context.Context, campaignID, field string, delta int64) (int64, error)
	DecrFloor(ctx context.Context, campaignID, field string) (int64, error)

	Counters(ctx context.Context, campaignID string) (Counters, error)

	// ActiveCampaigns enumerates campaign IDs whose run-status is active.
	ActiveCampaigns(ctx context.Context) ([]string, error)

	// Delete removes the campaign hash on cleanup.
	Delete(ctx context.Context, campaignID string) error

	// AcquireCycleLock grants the single pacing-cycle slot for a campaign.
	// The TTL bounds lock leakage if the holder crashes mid-cycle.
	AcquireCycleLock(ctx context.Context, campaignID string, ttl time.Duration) (bool, error)
	ReleaseCycleLock(ctx context.Context, campaignID string) error
}
