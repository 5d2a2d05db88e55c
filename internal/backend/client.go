package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the configuration store's REST interface.
//
// Rules:
// - No business logic here; this adapter only shuttles campaign/contact/agent
//   records. Pacing and retry decisions belong to internal/dialer.
// - Every request carries the configured timeout; callers degrade a failed
//   read to "no contacts" / "no agents" rather than aborting the cycle.
type Client struct {
	baseURL string
	http    *http.Client
}

var (
	ErrNotFound = errors.New("backend: not found")
)

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: unexpected status %d: %s", e.Code, e.Body)
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Campaign fetches one campaign's dialing configuration.
func (c *Client) Campaign(ctx context.Context, id string) (Campaign, error) {
	var out Campaign
	if err := c.get(ctx, "/api/campaigns/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return Campaign{}, err
	}
	return out, nil
}

// PatchCampaignStatus updates the campaign's persistent run-status.
func (c *Client) PatchCampaignStatus(ctx context.Context, id, status string) error {
	return c.send(ctx, http.MethodPatch, "/api/campaigns/"+url.PathEscape(id)+"/", map[string]any{"status": status}, nil)
}

type listEnvelope struct {
	Results []Contact `json:"results"`
}

// PendingContacts returns up to limit contacts eligible for dialing now,
// highest priority first, oldest first within a priority.
func (c *Client) PendingContacts(ctx context.Context, campaignID string, limit int) ([]Contact, error) {
	q := url.Values{}
	q.Set("campaign_id", campaignID)
	q.Set("status", ContactPending)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("ordering", "-priority,created_at")

	var env listEnvelope
	if err := c.get(ctx, "/api/contacts/", q, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

// RetryableContacts returns contacts whose busy/no-answer outcome is older
// than the cutoff and whose attempt count is still under the retry ceiling.
func (c *Client) RetryableContacts(ctx context.Context, campaignID string, cutoff time.Time, maxRetries, limit int) ([]Contact, error) {
	q := url.Values{}
	q.Set("campaign_id", campaignID)
	q.Set("status", ContactNoAnswer+","+ContactBusy)
	q.Set("last_attempt__lt", cutoff.UTC().Format(time.RFC3339))
	q.Set("attempts__lt", strconv.Itoa(maxRetries))
	q.Set("limit", strconv.Itoa(limit))

	var env listEnvelope
	if err := c.get(ctx, "/api/contacts/", q, &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

// UpdateContact patches a contact's status, and optionally its attempt count.
func (c *Client) UpdateContact(ctx context.Context, contactID, status string, attempts *int) error {
	body := map[string]any{"status": status}
	if attempts != nil {
		body["attempts"] = *attempts
	}
	return c.send(ctx, http.MethodPatch, "/api/contacts/"+url.PathEscape(contactID)+"/", body, nil)
}

// AvailableAgents counts queue members whose status is available or idle.
func (c *Client) AvailableAgents(ctx context.Context, queueName string) (int, error) {
	var agents []Agent
	if err := c.get(ctx, "/api/queues/"+url.PathEscape(queueName)+"/agents/", nil, &agents); err != nil {
		return 0, err
	}
	n := 0
	for _, a := range agents {
		if a.Status == AgentAvailable || a.Status == AgentIdle {
			n++
		}
	}
	return n, nil
}

// PushCampaignStats writes a counter snapshot back to the backend.
func (c *Client) PushCampaignStats(ctx context.Context, campaignID string, stats CampaignStats) error {
	return c.send(ctx, http.MethodPost, "/api/campaigns/"+url.PathEscape(campaignID)+"/update_stats/", stats, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("backend: encode body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var b bytes.Buffer
		_, _ = b.ReadFrom(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(b.String())}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}
