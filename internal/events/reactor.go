package events

import (
	"context"
	"log/slog"

	"dialer-service/internal/backend"
	"dialer-service/internal/counters"
)

// Call-lifecycle and agent-presence event types emitted by the switch
// integration and the control API.
const (
	TypeCallAnswered   = "call_answered"
	TypeCallCompleted  = "call_completed"
	TypeCallFailed     = "call_failed"
	TypeAgentAvailable = "agent_available"
	TypeAgentBusy      = "agent_busy"
)

// Event is one inbound call-lifecycle or agent-availability notification.
type Event struct {
	Type        string `json:"event_type"`
	CampaignID  string `json:"campaign_id,omitempty"`
	ContactID   string `json:"contact_id,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// Result reports how an event was handled. The reactor never returns an
// error for malformed or unknown events; it only reports a status.
type Result struct {
	Status string // "ok" or "ignored"
	Event  string
}

// ContactUpdater is the slice of the configuration store the reactor needs.
type ContactUpdater interface {
	UpdateContact(ctx context.Context, contactID, status string, attempts *int) error
}

// CycleTrigger requests an out-of-cycle pacing run for a campaign, so
// agent-availability changes are acted on before the next fixed tick.
type CycleTrigger func(ctx context.Context, campaignID string)

// Reactor applies call-lifecycle events to counters and contact status.
//
// Accounting invariant: each call is decremented from active_calls exactly
// once — at answer for calls that connect, at failure for calls that never
// do. call_completed deliberately leaves active_calls alone, and DecrFloor
// clamps at zero so duplicate events cannot corrupt the count.
type Reactor struct {
	cnt      counters.Store
	contacts ContactUpdater
	trigger  CycleTrigger
	log      *slog.Logger
}

func NewReactor(cnt counters.Store, contacts ContactUpdater, trigger CycleTrigger, log *slog.Logger) *Reactor {
	if log == nil {
		log = slog.Default()
	}
	return &Reactor{cnt: cnt, contacts: contacts, trigger: trigger, log: log}
}

// Handle dispatches one event. Safe to call concurrently.
func (r *Reactor) Handle(ctx context.Context, ev Event) Result {
	switch ev.Type {
	case TypeCallAnswered:
		if ev.CampaignID != "" {
			if _, err := r.cnt.DecrFloor(ctx, ev.CampaignID, counters.FieldActiveCalls); err != nil {
				r.log.Error("active_calls decrement failed", "campaign_id", ev.CampaignID, "err", err)
			}
			if _, err := r.cnt.IncrBy(ctx, ev.CampaignID, counters.FieldAnsweredCalls, 1); err != nil {
				r.log.Error("answered_calls increment failed", "campaign_id", ev.CampaignID, "err", err)
			}
		}
		r.patchContact(ctx, ev.ContactID, backend.ContactAnswered)

	case TypeCallCompleted:
		// active_calls was already decremented at answer time.
		r.patchContact(ctx, ev.ContactID, backend.ContactCompleted)

	case TypeCallFailed:
		if ev.CampaignID != "" {
			if _, err := r.cnt.DecrFloor(ctx, ev.CampaignID, counters.FieldActiveCalls); err != nil {
				r.log.Error("active_calls decrement failed", "campaign_id", ev.CampaignID, "err", err)
			}
		}
		disposition := ev.Disposition
		if disposition == "" {
			disposition = backend.ContactFailed
		}
		r.patchContact(ctx, ev.ContactID, disposition)

	case TypeAgentAvailable, TypeAgentBusy:
		if ev.CampaignID != "" && r.trigger != nil {
			r.trigger(ctx, ev.CampaignID)
		}

	default:
		r.log.Warn("unknown event type", "event_type", ev.Type)
		return Result{Status: "ignored", Event: ev.Type}
	}

	return Result{Status: "ok", Event: ev.Type}
}

func (r *Reactor) patchContact(ctx context.Context, contactID, status string) {
	if contactID == "" {
		return
	}
	if err := r.contacts.UpdateContact(ctx, contactID, status, nil); err != nil {
		r.log.Warn("contact status patch failed", "contact_id", contactID, "status", status, "err", err)
	}
}
