package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dialer-service/internal/ami"
	"dialer-service/internal/backend"
	"dialer-service/internal/counters"
	"dialer-service/internal/events"
	"dialer-service/pkg/logger"
)

// CampaignStore is the slice of the configuration store the API needs.
type CampaignStore interface {
	Campaign(ctx context.Context, id string) (backend.Campaign, error)
	PatchCampaignStatus(ctx context.Context, id, status string) error
}

// Originator places calls over the switch control channel; used by the
// preview-mode manual dial endpoint.
type Originator interface {
	Originate(ctx context.Context, req ami.OriginateRequest) (ami.Response, error)
}

// Publisher forwards an ingested event onto the worker's event channel.
// The worker's reactor is the single consumer, so counters are applied
// exactly once per event.
type Publisher func(ctx context.Context, ev events.Event) error

// Handlers exposes the campaign control plane: lifecycle transitions,
// statistics reads, preview originations and event ingestion.
type Handlers struct {
	Store    CampaignStore
	Counters counters.Store
	Switch   Originator
	Publish  Publisher

	// SwitchConnected reports control-channel health for /healthz.
	SwitchConnected func() bool

	// RingTimeout for manual originations.
	RingTimeout time.Duration
}

// Health is public; it reports process and switch-session liveness.
func (h Handlers) Health(c *gin.Context) {
	connected := false
	if h.SwitchConnected != nil {
		connected = h.SwitchConnected()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"ami_connected": connected,
	})
}

// StartCampaign activates a campaign: persistent status in the backend, then
// the counter-store mirror the control loop reads.
func (h Handlers) StartCampaign(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.Store.PatchCampaignStatus(ctx, id, counters.StatusActive); err != nil {
		h.campaignError(c, id, err)
		return
	}

	if _, err := h.Counters.Status(ctx, id); errors.Is(err, counters.ErrNotFound) {
		if err := h.Counters.Init(ctx, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "counter store unavailable"})
			return
		}
	}
	if err := h.Counters.SetStatus(ctx, id, counters.StatusActive); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counter store unavailable"})
		return
	}

	logger.FromGin(c).Info("campaign started", "campaign_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "campaign started"})
}

// PauseCampaign halts dialing without discarding counters. In-flight batches
// observe the status flip and stop originating.
func (h Handlers) PauseCampaign(c *gin.Context) {
	h.transition(c, counters.StatusPaused, "campaign paused")
}

// StopCampaign marks a campaign completed. Counters survive until cleanup so
// final statistics remain readable.
func (h Handlers) StopCampaign(c *gin.Context) {
	h.transition(c, counters.StatusCompleted, "campaign stopped")
}

func (h Handlers) transition(c *gin.Context, status, message string) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.Store.PatchCampaignStatus(ctx, id, status); err != nil {
		h.campaignError(c, id, err)
		return
	}
	if err := h.Counters.SetStatus(ctx, id, status); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counter store unavailable"})
		return
	}
	logger.FromGin(c).Info(message, "campaign_id", id, "status", status)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": message})
}

// CleanupCampaign deletes a finished campaign's counter hash.
func (h Handlers) CleanupCampaign(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	status, err := h.Counters.Status(ctx, id)
	if errors.Is(err, counters.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not tracked"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counter store unavailable"})
		return
	}
	if status == counters.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign is active"})
		return
	}
	if err := h.Counters.Delete(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counter store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "campaign cleaned up"})
}

// CampaignStats returns the live counter snapshot with the answer rate.
func (h Handlers) CampaignStats(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	status, err := h.Counters.Status(ctx, id)
	if errors.Is(err, counters.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not tracked"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counter store unavailable"})
		return
	}
	cc, err := h.Counters.Counters(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counter store unavailable"})
		return
	}

	answerRate := 0.0
	if cc.TotalCalls > 0 {
		answerRate = float64(cc.AnsweredCalls) / float64(cc.TotalCalls) * 100
	}
	c.JSON(http.StatusOK, gin.H{
		"campaign_id":    id,
		"status":         status,
		"active_calls":   cc.ActiveCalls,
		"total_calls":    cc.TotalCalls,
		"answered_calls": cc.AnsweredCalls,
		"answer_rate":    answerRate,
	})
}

type originateRequest struct {
	CampaignID  string            `json:"campaign_id" binding:"required"`
	ContactID   string            `json:"contact_id" binding:"required"`
	PhoneNumber string            `json:"phone_number" binding:"required"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// Originate places a single call on request. This is the preview-mode path:
// a human confirms the contact, then the call is dialed through the same
// switch session and accounting as the automatic executor.
func (h Handlers) Originate(c *gin.Context) {
	var req originateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx := c.Request.Context()

	campaign, err := h.Store.Campaign(ctx, req.CampaignID)
	if err != nil {
		h.campaignError(c, req.CampaignID, err)
		return
	}

	variables := map[string]string{
		"CAMPAIGN_ID": campaign.ID,
		"CONTACT_ID":  req.ContactID,
	}
	for k, v := range req.Variables {
		variables[k] = v
	}

	ringTimeout := h.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	resp, err := h.Switch.Originate(ctx, ami.OriginateRequest{
		Channel:   "PJSIP/" + req.PhoneNumber + "@" + campaign.Trunk,
		Context:   campaign.Context,
		Exten:     req.PhoneNumber,
		Priority:  1,
		Timeout:   ringTimeout,
		CallerID:  campaign.CallerID,
		Variables: variables,
	})
	if err != nil {
		logger.FromGin(c).Error("manual originate failed", "campaign_id", req.CampaignID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "switch unavailable"})
		return
	}
	if !resp.Success() {
		c.JSON(http.StatusBadGateway, gin.H{"error": "originate failed", "message": resp.Message()})
		return
	}

	if _, err := h.Counters.IncrBy(ctx, campaign.ID, counters.FieldTotalCalls, 1); err != nil {
		logger.FromGin(c).Error("counter increment lost", "campaign_id", campaign.ID, "err", err)
	}
	if _, err := h.Counters.IncrBy(ctx, campaign.ID, counters.FieldActiveCalls, 1); err != nil {
		logger.FromGin(c).Error("counter increment lost", "campaign_id", campaign.ID, "err", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "call originated"})
}

// IngestEvent validates an inbound lifecycle event and forwards it to the
// worker's event channel. Counter mutation happens in the worker's reactor
// only, so each event is applied exactly once.
func (h Handlers) IngestEvent(c *gin.Context) {
	var ev events.Event
	if err := c.ShouldBindJSON(&ev); err != nil || ev.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	if err := h.Publish(c.Request.Context(), ev); err != nil {
		logger.FromGin(c).Error("event publish failed", "event_type", ev.Type, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event bus unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "event_type": ev.Type})
}

func (h Handlers) campaignError(c *gin.Context, id string, err error) {
	if errors.Is(err, backend.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	logger.FromGin(c).Error("backend request failed", "campaign_id", id, "err", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
}
