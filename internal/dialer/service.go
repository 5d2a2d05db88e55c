package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"dialer-service/internal/ami"
	"dialer-service/internal/backend"
	"dialer-service/internal/counters"
	"dialer-service/internal/pacing"
)

// ConfigStore is the slice of the configuration-store client the dialer needs.
type ConfigStore interface {
	Campaign(ctx context.Context, id string) (backend.Campaign, error)
	PendingContacts(ctx context.Context, campaignID string, limit int) ([]backend.Contact, error)
	RetryableContacts(ctx context.Context, campaignID string, cutoff time.Time, maxRetries, limit int) ([]backend.Contact, error)
	UpdateContact(ctx context.Context, contactID, status string, attempts *int) error
	AvailableAgents(ctx context.Context, queueName string) (int, error)
	PushCampaignStats(ctx context.Context, campaignID string, stats backend.CampaignStats) error
}

// Switch is the origination surface of the control-channel client.
type Switch interface {
	Originate(ctx context.Context, req ami.OriginateRequest) (ami.Response, error)
}

// Options tunes one Service. Zero values get conservative defaults.
type Options struct {
	// ContactBatchSize caps retry-sweep batches.
	ContactBatchSize int

	// OriginateThrottle is the fixed delay between originations in one cycle.
	OriginateThrottle time.Duration

	// OriginateTimeout bounds a single origination round-trip.
	OriginateTimeout time.Duration

	// RingTimeout is how long the switch lets each call ring.
	RingTimeout time.Duration

	// CycleTimeout bounds one full pacing cycle.
	CycleTimeout time.Duration

	// CycleLockTTL bounds lock leakage if a cycle holder dies.
	CycleLockTTL time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.ContactBatchSize <= 0 {
		out.ContactBatchSize = 50
	}
	if out.OriginateThrottle <= 0 {
		out.OriginateThrottle = 100 * time.Millisecond
	}
	if out.OriginateTimeout <= 0 {
		out.OriginateTimeout = 15 * time.Second
	}
	if out.RingTimeout <= 0 {
		out.RingTimeout = 30 * time.Second
	}
	if out.CycleTimeout <= 0 {
		out.CycleTimeout = 2 * time.Minute
	}
	if out.CycleLockTTL <= 0 {
		out.CycleLockTTL = out.CycleTimeout + 30*time.Second
	}
	return out
}

// CycleResult is the structured outcome of one pacing cycle. Drivers log it
// and move on; cycle failures never propagate as errors.
type CycleResult struct {
	Status string // "ok", "skipped", "error"
	Reason string

	Dialed int
	Failed int

	AvailableAgents int
	ActiveCalls     int64

	// CounterErrors counts successful originations whose counter increment
	// failed; the accounting drift is flagged, not silently dropped.
	CounterErrors int
}

// RetryResult is the structured outcome of one retry sweep.
type RetryResult struct {
	Status string
	Reason string
	Reset  int
}

// Service runs the per-campaign control loop: contact selection, pacing,
// origination, retry sweeps and statistics refresh.
//
// Concurrency: cycles for the same campaign are serialized twice over — an
// in-process single-flight group coalesces concurrent triggers (tick plus
// event-driven), and the counter store's cycle lock guards against another
// process. Different campaigns proceed in parallel.
type Service struct {
	store  ConfigStore
	sw     Switch
	cnt    counters.Store
	log    *slog.Logger
	opts   Options
	flight singleflight.Group

	// sleep and now are swappable for tests.
	sleep func(context.Context, time.Duration)
	now   func() time.Time
}

func NewService(store ConfigStore, sw Switch, cnt counters.Store, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: store,
		sw:    sw,
		cnt:   cnt,
		log:   log,
		opts:  opts.withDefaults(),
		sleep: sleepCtx,
		now:   time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunCycle executes one pacing cycle for a campaign. Concurrent calls for the
// same campaign share a single execution.
func (s *Service) RunCycle(ctx context.Context, campaignID string) CycleResult {
	v, _, _ := s.flight.Do(campaignID, func() (any, error) {
		return s.runCycle(ctx, campaignID), nil
	})
	return v.(CycleResult)
}

func (s *Service) runCycle(ctx context.Context, campaignID string) CycleResult {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	defer cancel()

	acquired, err := s.cnt.AcquireCycleLock(ctx, campaignID, s.opts.CycleLockTTL)
	if err != nil {
		s.log.Error("cycle lock acquire failed", "campaign_id", campaignID, "err", err)
		return CycleResult{Status: "error", Reason: "lock_unavailable"}
	}
	if !acquired {
		return CycleResult{Status: "skipped", Reason: "cycle_in_progress"}
	}
	defer func() {
		if err := s.cnt.ReleaseCycleLock(context.WithoutCancel(ctx), campaignID); err != nil {
			s.log.Warn("cycle lock release failed", "campaign_id", campaignID, "err", err)
		}
	}()

	status, err := s.cnt.Status(ctx, campaignID)
	if err != nil {
		if errors.Is(err, counters.ErrNotFound) {
			return CycleResult{Status: "skipped", Reason: "not_tracked"}
		}
		s.log.Error("campaign status read failed", "campaign_id", campaignID, "err", err)
		return CycleResult{Status: "error", Reason: "counters_unavailable"}
	}
	if status != counters.StatusActive {
		return CycleResult{Status: "skipped", Reason: "not_active"}
	}

	campaign, err := s.store.Campaign(ctx, campaignID)
	if err != nil {
		s.log.Error("campaign config fetch failed", "campaign_id", campaignID, "err", err)
		return CycleResult{Status: "error", Reason: "config_not_found"}
	}

	agents, err := s.store.AvailableAgents(ctx, campaign.QueueName)
	if err != nil {
		// Degrade to zero agents; the cycle becomes a no-op rather than a failure.
		s.log.Warn("agent availability fetch failed", "campaign_id", campaignID, "queue", campaign.QueueName, "err", err)
		agents = 0
	}

	cc, err := s.cnt.Counters(ctx, campaignID)
	if err != nil {
		s.log.Error("counters read failed", "campaign_id", campaignID, "err", err)
		return CycleResult{Status: "error", Reason: "counters_unavailable"}
	}

	callsToMake := pacing.Decide(pacing.Input{
		Mode:               pacing.Mode(campaign.DialMode),
		PacingRatio:        campaign.PacingRatio,
		MaxConcurrentCalls: campaign.MaxConcurrentCalls,
		AvailableAgents:    agents,
		ActiveCalls:        int(cc.ActiveCalls),
	})
	if callsToMake == 0 {
		return CycleResult{Status: "ok", Reason: "pacing_limit", AvailableAgents: agents, ActiveCalls: cc.ActiveCalls}
	}

	contacts, err := s.store.PendingContacts(ctx, campaignID, callsToMake)
	if err != nil {
		s.log.Warn("pending contacts fetch failed", "campaign_id", campaignID, "err", err)
		contacts = nil
	}
	if len(contacts) == 0 {
		return CycleResult{Status: "ok", Reason: "no_contacts", AvailableAgents: agents, ActiveCalls: cc.ActiveCalls}
	}

	res := s.dialBatch(ctx, campaign, contacts)
	res.AvailableAgents = agents
	res.ActiveCalls = cc.ActiveCalls
	s.log.Info("cycle complete",
		"campaign_id", campaignID,
		"dialed", res.Dialed,
		"failed", res.Failed,
		"available_agents", agents,
	)
	return res
}

// dialBatch originates calls for the selected contacts strictly in order,
// with a fixed micro-throttle between attempts. The campaign's run-status is
// re-checked between contacts so a pause or cancel stops the batch.
func (s *Service) dialBatch(ctx context.Context, campaign backend.Campaign, contacts []backend.Contact) CycleResult {
	res := CycleResult{Status: "ok"}

	for i, contact := range contacts {
		if i > 0 {
			s.sleep(ctx, s.opts.OriginateThrottle)
		}
		if ctx.Err() != nil {
			res.Reason = "cycle_timeout"
			return res
		}

		if i > 0 {
			status, err := s.cnt.Status(ctx, campaign.ID)
			if err == nil && status != counters.StatusActive {
				res.Reason = "campaign_stopped"
				return res
			}
		}

		// Best-effort claim; a failed patch is logged but does not skip the dial.
		if err := s.store.UpdateContact(ctx, contact.ID, backend.ContactDialing, nil); err != nil {
			s.log.Warn("contact claim failed", "contact_id", contact.ID, "err", err)
		}

		if s.originate(ctx, campaign, contact) {
			res.Dialed++
			res.CounterErrors += s.recordOrigination(ctx, campaign.ID, contact.ID)
		} else {
			res.Failed++
			s.recordFailure(ctx, campaign, contact)
		}
	}
	return res
}

// originate issues one call over the control channel. Transport errors and
// error responses are both treated as origination failures.
func (s *Service) originate(ctx context.Context, campaign backend.Campaign, contact backend.Contact) bool {
	octx, cancel := context.WithTimeout(ctx, s.opts.OriginateTimeout)
	defer cancel()

	resp, err := s.sw.Originate(octx, ami.OriginateRequest{
		Channel:  fmt.Sprintf("PJSIP/%s@%s", contact.PhoneNumber, campaign.Trunk),
		Context:  campaign.Context,
		Exten:    contact.PhoneNumber,
		Priority: 1,
		Timeout:  s.opts.RingTimeout,
		CallerID: campaign.CallerID,
		Variables: map[string]string{
			"CAMPAIGN_ID": campaign.ID,
			"CONTACT_ID":  contact.ID,
		},
	})
	if err != nil {
		s.log.Warn("originate transport error", "campaign_id", campaign.ID, "contact_id", contact.ID, "err", err)
		return false
	}
	if !resp.Success() {
		s.log.Warn("originate rejected", "campaign_id", campaign.ID, "contact_id", contact.ID, "message", resp.Message())
		return false
	}
	return true
}

// recordOrigination increments total and active call counters for one
// successful origination. Returns the number of failed increments; each one
// is an accounting inconsistency that must not pass silently.
func (s *Service) recordOrigination(ctx context.Context, campaignID, contactID string) int {
	drift := 0
	if _, err := s.cnt.IncrBy(ctx, campaignID, counters.FieldTotalCalls, 1); err != nil {
		s.log.Error("counter increment lost", "campaign_id", campaignID, "contact_id", contactID, "field", counters.FieldTotalCalls, "err", err)
		drift++
	}
	if _, err := s.cnt.IncrBy(ctx, campaignID, counters.FieldActiveCalls, 1); err != nil {
		s.log.Error("counter increment lost", "campaign_id", campaignID, "contact_id", contactID, "field", counters.FieldActiveCalls, "err", err)
		drift++
	}
	return drift
}

// recordFailure bumps the contact's attempt count and either retires it or
// returns it to the pending pool for a later retry sweep.
func (s *Service) recordFailure(ctx context.Context, campaign backend.Campaign, contact backend.Contact) {
	attempts := contact.Attempts + 1
	status := backend.ContactPending
	if attempts >= campaign.MaxRetries {
		status = backend.ContactFailed
	}
	if err := s.store.UpdateContact(ctx, contact.ID, status, &attempts); err != nil {
		s.log.Warn("contact failure update failed", "contact_id", contact.ID, "err", err)
	}
}

// RetrySweep re-queues busy/no-answer contacts whose last attempt is older
// than the campaign's retry delay and whose attempt count is under the
// ceiling.
func (s *Service) RetrySweep(ctx context.Context, campaignID string) RetryResult {
	campaign, err := s.store.Campaign(ctx, campaignID)
	if err != nil {
		s.log.Error("campaign config fetch failed", "campaign_id", campaignID, "err", err)
		return RetryResult{Status: "error", Reason: "config_not_found"}
	}

	delay := campaign.RetryDelay()
	if delay < time.Minute {
		delay = time.Minute
	}
	cutoff := s.now().Add(-delay)

	contacts, err := s.store.RetryableContacts(ctx, campaignID, cutoff, campaign.MaxRetries, s.opts.ContactBatchSize)
	if err != nil {
		s.log.Warn("retryable contacts fetch failed", "campaign_id", campaignID, "err", err)
		return RetryResult{Status: "error", Reason: "backend_error"}
	}

	reset := 0
	for _, contact := range contacts {
		if err := s.store.UpdateContact(ctx, contact.ID, backend.ContactPending, nil); err != nil {
			s.log.Warn("retry reset failed", "contact_id", contact.ID, "err", err)
			continue
		}
		reset++
	}
	if reset > 0 {
		s.log.Info("retry sweep reset contacts", "campaign_id", campaignID, "reset", reset)
	}
	return RetryResult{Status: "ok", Reset: reset}
}

// RefreshStats pushes the campaign's counter snapshot back to the backend.
func (s *Service) RefreshStats(ctx context.Context, campaignID string) error {
	cc, err := s.cnt.Counters(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("dialer: read counters: %w", err)
	}
	stats := backend.CampaignStats{
		ActiveCalls:   cc.ActiveCalls,
		TotalCalls:    cc.TotalCalls,
		AnsweredCalls: cc.AnsweredCalls,
	}
	if cc.TotalCalls > 0 {
		stats.AnswerRate = float64(cc.AnsweredCalls) / float64(cc.TotalCalls) * 100
	}
	if err := s.store.PushCampaignStats(ctx, campaignID, stats); err != nil {
		return fmt.Errorf("dialer: push stats: %w", err)
	}
	return nil
}

// Cleanup removes a finished campaign's counter hash.
func (s *Service) Cleanup(ctx context.Context, campaignID string) error {
	if err := s.cnt.Delete(ctx, campaignID); err != nil {
		return fmt.Errorf("dialer: cleanup campaign %s: %w", campaignID, err)
	}
	s.log.Info("campaign cleaned up", "campaign_id", campaignID)
	return nil
}
