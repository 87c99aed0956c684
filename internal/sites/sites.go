// Package sites talks to the document-site gateway that fronts the team
// storage. The orchestrator only depends on the Client interface; the HTTP
// implementation is the production wiring.
package sites

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

// Client resolves site identifiers and moves files between sites.
type Client interface {
	ResolveSiteID(ctx context.Context, hostName, path, requestID string) (string, error)
	MoveFile(ctx context.Context, fromSite, fromPath, toSite, toPath, requestID string) error
	DeleteFileOrFolder(ctx context.Context, site, path, requestID string) error
}

const defaultTimeout = 15 * time.Second

// HTTPClient is a thin JSON client for the site gateway.
type HTTPClient struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// NewHTTPClient creates a client with sane defaults.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Timeout: defaultTimeout,
	}
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any, requestID string) error {
	u, err := url.JoinPath(c.BaseURL, endpoint)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("site gateway %s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) ResolveSiteID(ctx context.Context, hostName, path, requestID string) (string, error) {
	var res struct {
		SiteID string `json:"site_id"`
	}
	endpoint := fmt.Sprintf("/sites/resolve?host=%s&path=%s", url.QueryEscape(hostName), url.QueryEscape(path))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &res, requestID); err != nil {
		return "", err
	}
	if res.SiteID == "" {
		return "", fmt.Errorf("site gateway returned empty site id for %s%s", hostName, path)
	}
	return res.SiteID, nil
}

func (c *HTTPClient) MoveFile(ctx context.Context, fromSite, fromPath, toSite, toPath, requestID string) error {
	body := map[string]string{
		"from_site": fromSite,
		"from_path": fromPath,
		"to_site":   toSite,
		"to_path":   toPath,
	}
	return c.do(ctx, http.MethodPost, "/files/move", body, nil, requestID)
}

func (c *HTTPClient) DeleteFileOrFolder(ctx context.Context, site, path, requestID string) error {
	body := map[string]string{
		"site": site,
		"path": path,
	}
	return c.do(ctx, http.MethodPost, "/files/delete", body, nil, requestID)
}
