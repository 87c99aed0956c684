package pursuitsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pursuit HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	RequestID   string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Opportunity represents the API opportunity model (partial).
type Opportunity struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"display_name"`
	Reference      string         `json:"reference,omitempty"`
	State          string         `json:"state"`
	Version        int64          `json:"version"`
	TemplateLoaded bool           `json:"template_loaded"`
	Content        map[string]any `json:"content,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts"`
	Type          string `json:"type"`
	OpportunityID string `json:"opportunity_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
}

// Permission is one catalog entry.
type Permission struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateOpportunity creates an opportunity and runs its creation workflow.
func (c *Client) CreateOpportunity(ctx context.Context, displayName, templateID string, extra map[string]any) (Opportunity, error) {
	body := map[string]any{
		"display_name": displayName,
		"template_id":  templateID,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Opportunity
	err := c.do(ctx, http.MethodPost, "opportunities", body, &resp)
	return resp, err
}

// GetOpportunity fetches an opportunity by id.
func (c *Client) GetOpportunity(ctx context.Context, id string) (Opportunity, error) {
	var resp Opportunity
	err := c.do(ctx, http.MethodGet, "opportunities/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListOpportunities returns opportunity summaries.
func (c *Client) ListOpportunities(ctx context.Context) ([]Opportunity, error) {
	var resp []Opportunity
	err := c.do(ctx, http.MethodGet, "opportunities", nil, &resp)
	return resp, err
}

// UpdateOpportunity applies content changes and runs the update workflow.
func (c *Client) UpdateOpportunity(ctx context.Context, id string, changes map[string]any) (Opportunity, error) {
	var resp Opportunity
	err := c.do(ctx, http.MethodPatch, "opportunities/"+url.PathEscape(id), changes, &resp)
	return resp, err
}

// RelocateFiles moves staged attachments into the opportunity site.
func (c *Client) RelocateFiles(ctx context.Context, id string) (Opportunity, error) {
	var resp Opportunity
	err := c.do(ctx, http.MethodPost, "opportunities/"+url.PathEscape(id)+"/relocate-files", nil, &resp)
	return resp, err
}

// Events returns audit events for an opportunity.
func (c *Client) Events(ctx context.Context, opportunityID string, limit int) ([]Event, error) {
	endpoint := "opportunities/" + url.PathEscape(opportunityID) + "/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MyPermissions returns the caller's effective permission set.
func (c *Client) MyPermissions(ctx context.Context) ([]Permission, error) {
	var resp []Permission
	err := c.do(ctx, http.MethodGet, "me/permissions", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.RequestID != "" {
		req.Header.Set("X-Request-Id", c.RequestID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
