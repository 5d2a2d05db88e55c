package dialer

import (
	"context"
	"testing"
	"time"

	"dialer-service/internal/backend"
	"dialer-service/internal/counters"
)

func TestDriver_TicksAndStopsOnCancel(t *testing.T) {
	store := newFakeConfigStore()
	store.campaigns["c1"] = testCampaign()
	store.agents["sales"] = 1
	store.pending["c1"] = []backend.Contact{
		{ID: "k1", CampaignID: "c1", PhoneNumber: "111", Status: backend.ContactPending},
	}
	sw := newFakeSwitch()
	cnt := activeCampaignStore(t)

	svc := newTestService(store, sw, cnt)
	drv := NewDriver(svc, cnt, nil, DriverOptions{
		DialInterval:  5 * time.Millisecond,
		RetryInterval: time.Hour,
		StatsInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- drv.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for sw.requestCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no origination observed within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("driver did not stop on cancel")
	}
}

func TestDriver_NoActiveCampaignsIsQuiet(t *testing.T) {
	store := newFakeConfigStore()
	sw := newFakeSwitch()
	cnt := counters.NewMemoryStore()

	svc := newTestService(store, sw, cnt)
	drv := NewDriver(svc, cnt, nil, DriverOptions{
		DialInterval:  time.Millisecond,
		RetryInterval: time.Hour,
		StatsInterval: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := drv.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sw.requestCount() != 0 {
		t.Fatalf("expected no originations without active campaigns")
	}
}
