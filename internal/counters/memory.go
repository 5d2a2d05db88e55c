package counters

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It mirrors the Redis semantics: atomic field increments under one lock,
// floor-at-zero decrements, and a single cycle-lock slot per campaign.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]*memCampaign
	locks     map[string]time.Time

	now func() time.Time
}

type memCampaign struct {
	status   string
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: map[string]*memCampaign{},
		locks:     map[string]time.Time{},
		now:       time.Now,
	}
}

func (s *MemoryStore) Init(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[campaignID] = &memCampaign{
		status: StatusDraft,
		counters: map[string]int64{
			FieldActiveCalls:   0,
			FieldTotalCalls:    0,
			FieldAnsweredCalls: 0,
		},
	}
	return nil
}

func (s *MemoryStore) Status(ctx context.Context, campaignID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return "", ErrNotFound
	}
	return c.status, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, campaignID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.ensure(campaignID)
	c.status = status
	return nil
}

func (s *MemoryStore) IncrBy(ctx context.Context, campaignID, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.ensure(campaignID)
	c.counters[field] += delta
	return c.counters[field], nil
}

func (s *MemoryStore) DecrFloor(ctx context.Context, campaignID, field string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.ensure(campaignID)
	c.counters[field]--
	if c.counters[field] < 0 {
		c.counters[field] = 0
	}
	return c.counters[field], nil
}

func (s *MemoryStore) Counters(ctx context.Context, campaignID string) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return Counters{}, nil
	}
	return Counters{
		ActiveCalls:   c.counters[FieldActiveCalls],
		TotalCalls:    c.counters[FieldTotalCalls],
		AnsweredCalls: c.counters[FieldAnsweredCalls],
	}, nil
}

func (s *MemoryStore) ActiveCampaigns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, c := range s.campaigns {
		if c.status == StatusActive {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.campaigns, campaignID)
	return nil
}

func (s *MemoryStore) AcquireCycleLock(ctx context.Context, campaignID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, held := s.locks[campaignID]; held && s.now().Before(expiry) {
		return false, nil
	}
	s.locks[campaignID] = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseCycleLock(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, campaignID)
	return nil
}

func (s *MemoryStore) ensure(campaignID string) *memCampaign {
	c, ok := s.campaigns[campaignID]
	if !ok {
		c = &memCampaign{status: StatusDraft, counters: map[string]int64{}}
		s.campaigns[campaignID] = c
	}
	return c
}
