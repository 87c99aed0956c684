// Package notify delivers state-change notices. Delivery is best-effort by
// contract: callers log failures and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pursuit/internal/domain"
)

// Notifier sends a state-change notice for an opportunity.
type Notifier interface {
	SendStateChangeNotice(ctx context.Context, opp domain.Opportunity, recipient, message, requestID string) error
}

const defaultTimeout = 5 * time.Second

// WebhookNotifier posts notices as JSON to a configured endpoint.
type WebhookNotifier struct {
	URL        string
	HTTPClient *http.Client
}

func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url}
}

type noticePayload struct {
	OpportunityID string `json:"opportunity_id"`
	DisplayName   string `json:"display_name"`
	State         string `json:"state"`
	Recipient     string `json:"recipient"`
	Message       string `json:"message"`
	RequestID     string `json:"request_id,omitempty"`
	SentAt        string `json:"sent_at" format:"date-time"`
}

func (n *WebhookNotifier) SendStateChangeNotice(ctx context.Context, opp domain.Opportunity, recipient, message, requestID string) error {
	if strings.TrimSpace(n.URL) == "" {
		return fmt.Errorf("notification url not configured")
	}
	payload := noticePayload{
		OpportunityID: opp.ID,
		DisplayName:   opp.DisplayName,
		State:         opp.State,
		Recipient:     recipient,
		Message:       message,
		RequestID:     requestID,
		SentAt:        time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notice delivery to %s: status %d", n.URL, resp.StatusCode)
	}
	return nil
}
