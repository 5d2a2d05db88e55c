package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dialer-service/internal/ami"
	"dialer-service/internal/backend"
	"dialer-service/internal/counters"
	"dialer-service/internal/events"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	campaigns map[string]backend.Campaign
	patched   map[string]string
	patchErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: map[string]backend.Campaign{},
		patched:   map[string]string{},
	}
}

func (f *fakeStore) Campaign(_ context.Context, id string) (backend.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return backend.Campaign{}, backend.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) PatchCampaignStatus(_ context.Context, id, status string) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	if _, ok := f.campaigns[id]; !ok {
		return backend.ErrNotFound
	}
	f.patched[id] = status
	return nil
}

type fakeOriginator struct {
	requests []ami.OriginateRequest
	response ami.Response
	err      error
}

func (f *fakeOriginator) Originate(_ context.Context, req ami.OriginateRequest) (ami.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.response == nil {
		return ami.Response{"Response": "Success"}, nil
	}
	return f.response, nil
}

type fixture struct {
	store     *fakeStore
	counters  *counters.MemoryStore
	origin    *fakeOriginator
	published []events.Event
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		counters: counters.NewMemoryStore(),
		origin:   &fakeOriginator{},
	}
	h := Handlers{
		Store:    f.store,
		Counters: f.counters,
		Switch:   f.origin,
		Publish: func(_ context.Context, ev events.Event) error {
			f.published = append(f.published, ev)
			return nil
		},
		SwitchConnected: func() bool { return true },
		RingTimeout:     30 * time.Second,
	}

	r := gin.New()
	r.GET("/healthz", h.Health)
	r.POST("/v1/campaigns/:id/start", h.StartCampaign)
	r.POST("/v1/campaigns/:id/pause", h.PauseCampaign)
	r.POST("/v1/campaigns/:id/stop", h.StopCampaign)
	r.DELETE("/v1/campaigns/:id", h.CleanupCampaign)
	r.GET("/v1/campaigns/:id/stats", h.CampaignStats)
	r.POST("/v1/calls/originate", h.Originate)
	r.POST("/v1/events", h.IngestEvent)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStartCampaignInitializesCounters(t *testing.T) {
	f := newFixture(t)
	f.store.campaigns["7"] = backend.Campaign{ID: "7", Trunk: "trunk-out"}

	w := f.do(t, http.MethodPost, "/v1/campaigns/7/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := f.store.patched["7"]; got != counters.StatusActive {
		t.Fatalf("backend status = %q, want active", got)
	}
	status, err := f.counters.Status(context.Background(), "7")
	if err != nil {
		t.Fatalf("counter status: %v", err)
	}
	if status != counters.StatusActive {
		t.Fatalf("counter status = %q, want active", status)
	}
}

func TestStartCampaignUnknownCampaign(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/campaigns/99/start", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStartCampaignBackendDown(t *testing.T) {
	f := newFixture(t)
	f.store.campaigns["7"] = backend.Campaign{ID: "7"}
	f.store.patchErr = errors.New("connection refused")

	w := f.do(t, http.MethodPost, "/v1/campaigns/7/start", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestPauseAndStopTransitions(t *testing.T) {
	f := newFixture(t)
	f.store.campaigns["7"] = backend.Campaign{ID: "7"}
	if err := f.counters.Init(context.Background(), "7"); err != nil {
		t.Fatalf("init: %v", err)
	}

	if w := f.do(t, http.MethodPost, "/v1/campaigns/7/pause", nil); w.Code != http.StatusOK {
		t.Fatalf("pause status = %d", w.Code)
	}
	status, _ := f.counters.Status(context.Background(), "7")
	if status != counters.StatusPaused {
		t.Fatalf("status after pause = %q", status)
	}

	if w := f.do(t, http.MethodPost, "/v1/campaigns/7/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("stop status = %d", w.Code)
	}
	status, _ = f.counters.Status(context.Background(), "7")
	if status != counters.StatusCompleted {
		t.Fatalf("status after stop = %q", status)
	}
}

func TestCleanupRefusesActiveCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.counters.Init(ctx, "7"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := f.counters.SetStatus(ctx, "7", counters.StatusActive); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if w := f.do(t, http.MethodDelete, "/v1/campaigns/7", nil); w.Code != http.StatusConflict {
		t.Fatalf("cleanup active status = %d, want 409", w.Code)
	}

	if err := f.counters.SetStatus(ctx, "7", counters.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if w := f.do(t, http.MethodDelete, "/v1/campaigns/7", nil); w.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", w.Code)
	}
	if _, err := f.counters.Status(ctx, "7"); !errors.Is(err, counters.ErrNotFound) {
		t.Fatalf("status after cleanup = %v, want ErrNotFound", err)
	}
}

func TestCampaignStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.counters.Init(ctx, "7"); err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := f.counters.IncrBy(ctx, "7", counters.FieldTotalCalls, 1); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		if _, err := f.counters.IncrBy(ctx, "7", counters.FieldAnsweredCalls, 1); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}

	w := f.do(t, http.MethodGet, "/v1/campaigns/7/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		TotalCalls    int64   `json:"total_calls"`
		AnsweredCalls int64   `json:"answered_calls"`
		AnswerRate    float64 `json:"answer_rate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalCalls != 10 || body.AnsweredCalls != 4 {
		t.Fatalf("counters = %d/%d, want 10/4", body.TotalCalls, body.AnsweredCalls)
	}
	if body.AnswerRate != 40 {
		t.Fatalf("answer rate = %v, want 40", body.AnswerRate)
	}
}

func TestCampaignStatsNotTracked(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/v1/campaigns/7/stats", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestOriginateBuildsRequestAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.campaigns["7"] = backend.Campaign{
		ID: "7", Trunk: "trunk-out", Context: "outbound", CallerID: "Acme <1000>",
	}
	if err := f.counters.Init(ctx, "7"); err != nil {
		t.Fatalf("init: %v", err)
	}

	w := f.do(t, http.MethodPost, "/v1/calls/originate", map[string]any{
		"campaign_id":  "7",
		"contact_id":   "42",
		"phone_number": "5550001",
		"variables":    map[string]string{"QUEUE": "sales"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.origin.requests) != 1 {
		t.Fatalf("originations = %d, want 1", len(f.origin.requests))
	}
	req := f.origin.requests[0]
	if req.Channel != "PJSIP/5550001@trunk-out" {
		t.Fatalf("channel = %q", req.Channel)
	}
	if req.Context != "outbound" || req.Exten != "5550001" {
		t.Fatalf("context/exten = %q/%q", req.Context, req.Exten)
	}
	if req.Variables["CAMPAIGN_ID"] != "7" || req.Variables["CONTACT_ID"] != "42" {
		t.Fatalf("claim variables = %v", req.Variables)
	}
	if req.Variables["QUEUE"] != "sales" {
		t.Fatalf("extra variables not forwarded: %v", req.Variables)
	}

	cc, err := f.counters.Counters(ctx, "7")
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if cc.TotalCalls != 1 || cc.ActiveCalls != 1 {
		t.Fatalf("counters = %+v, want total 1 active 1", cc)
	}
}

func TestOriginateSwitchFailure(t *testing.T) {
	f := newFixture(t)
	f.store.campaigns["7"] = backend.Campaign{ID: "7", Trunk: "trunk-out"}
	f.origin.response = ami.Response{"Response": "Error", "Message": "Trunk congested"}

	w := f.do(t, http.MethodPost, "/v1/calls/originate", map[string]any{
		"campaign_id":  "7",
		"contact_id":   "42",
		"phone_number": "5550001",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	cc, err := f.counters.Counters(context.Background(), "7")
	if err == nil && (cc.TotalCalls != 0 || cc.ActiveCalls != 0) {
		t.Fatalf("counters mutated on failed originate: %+v", cc)
	}
}

func TestOriginateInvalidPayload(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/calls/originate", map[string]any{"campaign_id": "7"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(f.origin.requests) != 0 {
		t.Fatalf("switch reached on invalid payload")
	}
}

func TestIngestEventPublishesWithoutApplying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.counters.Init(ctx, "7"); err != nil {
		t.Fatalf("init: %v", err)
	}

	w := f.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_type":  events.TypeCallAnswered,
		"campaign_id": "7",
		"contact_id":  "42",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(f.published) != 1 {
		t.Fatalf("published = %d, want 1", len(f.published))
	}
	if f.published[0].Type != events.TypeCallAnswered || f.published[0].CampaignID != "7" {
		t.Fatalf("published event = %+v", f.published[0])
	}

	// The API only forwards; the worker's reactor owns counter mutation.
	cc, err := f.counters.Counters(ctx, "7")
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if cc.AnsweredCalls != 0 {
		t.Fatalf("answered = %d, want 0", cc.AnsweredCalls)
	}
}

func TestIngestEventRejectsMissingType(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/events", map[string]any{"campaign_id": "7"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(f.published) != 0 {
		t.Fatalf("malformed event published")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ami_connected"] != true {
		t.Fatalf("ami_connected = %v, want true", body["ami_connected"])
	}
}
