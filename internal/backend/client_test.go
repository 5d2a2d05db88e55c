package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCampaign_DecodesConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/campaigns/c1/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Campaign{
			ID: "c1", DialMode: "predictive", PacingRatio: 1.2,
			MaxConcurrentCalls: 50, MaxRetries: 3, RetryDelaySeconds: 300,
			QueueName: "sales", Trunk: "trunk-out", CallerID: "5551234567",
			Context: "dialer-outbound", Status: "active",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.Campaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("campaign: %v", err)
	}
	if got.DialMode != "predictive" || got.PacingRatio != 1.2 {
		t.Fatalf("unexpected campaign: %+v", got)
	}
	if got.RetryDelay() != 5*time.Minute {
		t.Fatalf("expected 5m retry delay, got %v", got.RetryDelay())
	}
}

func TestCampaign_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Campaign(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPendingContacts_QueryShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("campaign_id") != "c1" || q.Get("status") != "pending" {
			t.Errorf("unexpected query %v", q)
		}
		if q.Get("limit") != "4" || q.Get("ordering") != "-priority,created_at" {
			t.Errorf("unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(listEnvelope{Results: []Contact{
			{ID: "k1", CampaignID: "c1", PhoneNumber: "111", Priority: 9, Status: "pending"},
			{ID: "k2", CampaignID: "c1", PhoneNumber: "222", Priority: 5, Status: "pending"},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.PendingContacts(context.Background(), "c1", 4)
	if err != nil {
		t.Fatalf("pending contacts: %v", err)
	}
	if len(got) != 2 || got[0].ID != "k1" {
		t.Fatalf("unexpected contacts: %+v", got)
	}
}

func TestRetryableContacts_QueryShape(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "no_answer,busy" {
			t.Errorf("unexpected status filter %q", q.Get("status"))
		}
		if q.Get("last_attempt__lt") != "2024-03-01T12:00:00Z" {
			t.Errorf("unexpected cutoff %q", q.Get("last_attempt__lt"))
		}
		if q.Get("attempts__lt") != "3" {
			t.Errorf("unexpected attempts filter %q", q.Get("attempts__lt"))
		}
		_ = json.NewEncoder(w).Encode(listEnvelope{Results: []Contact{{ID: "k1"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.RetryableContacts(context.Background(), "c1", cutoff, 3, 50)
	if err != nil {
		t.Fatalf("retryable contacts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("unexpected contacts: %+v", got)
	}
}

func TestUpdateContact_PatchesStatusAndAttempts(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	attempts := 2
	if err := c.UpdateContact(context.Background(), "k1", ContactFailed, &attempts); err != nil {
		t.Fatalf("update contact: %v", err)
	}
	if body["status"] != "failed" || body["attempts"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAvailableAgents_CountsAvailableAndIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/queues/sales/agents/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]Agent{
			{ID: "a1", Status: "available"},
			{ID: "a2", Status: "idle"},
			{ID: "a3", Status: "busy"},
			{ID: "a4", Status: "offline"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	n, err := c.AvailableAgents(context.Background(), "sales")
	if err != nil {
		t.Fatalf("available agents: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 available agents, got %d", n)
	}
}

func TestDo_SurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.PendingContacts(context.Background(), "c1", 10)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected code %d", se.Code)
	}
}

func TestPushCampaignStats_Posts(t *testing.T) {
	var got CampaignStats
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/campaigns/c1/update_stats/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.PushCampaignStats(context.Background(), "c1", CampaignStats{TotalCalls: 10, AnsweredCalls: 4, AnswerRate: 40})
	if err != nil {
		t.Fatalf("push stats: %v", err)
	}
	if got.TotalCalls != 10 || got.AnswerRate != 40 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}
