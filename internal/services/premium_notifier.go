package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/metrics"
	"entitlement-api/pkg/logging"
)

// WebhookNotifier posts premium reconciliation events to a downstream backend.
// Delivery runs after the reconciliation it reports on has completed and never
// affects the receipt response.
type WebhookNotifier struct {
	callbackURL string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		callbackURL: callbackURL,
		secret:      secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// PremiumWebhookPayload is the body sent for each reconciled pairing.
type PremiumWebhookPayload struct {
	Event       string `json:"event"` // pairing.premium_reconciled
	PairingID   string `json:"pairing_id"`
	Premium     bool   `json:"premium"`
	TriggeredBy string `json:"triggered_by"`
	Timestamp   string `json:"timestamp"` // RFC 3339
}

// NotifyPremiumReconciled delivers one event per pairing. Callers run it in its own goroutine.
func (wn *WebhookNotifier) NotifyPremiumReconciled(userID string, pairings []PairingPremium) {
	if wn.callbackURL == "" {
		return
	}

	for _, pairing := range pairings {
		payload := PremiumWebhookPayload{
			Event:       "pairing.premium_reconciled",
			PairingID:   pairing.PairingID,
			Premium:     pairing.Premium,
			TriggeredBy: userID,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}
		wn.sendWithRetry(payload)
	}
}

// sendWithRetry tries once per entry in retryDelays, sleeping between attempts.
func (wn *WebhookNotifier) sendWithRetry(payload PremiumWebhookPayload) {
	maxRetries := len(wn.retryDelays)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := wn.sendWebhook(payload)
		if err == nil {
			logging.Debugf("Premium webhook sent - pairing_id: %s, attempt: %d", payload.PairingID, attempt+1)
			return
		}

		logging.Errorf("Premium webhook failed - url: %s, pairing_id: %s, attempt: %d, error: %v",
			wn.callbackURL, payload.PairingID, attempt+1, err)

		if attempt < maxRetries-1 {
			time.Sleep(wn.retryDelays[attempt])
		}
	}

	metrics.PremiumWebhookFailuresTotal.Inc()
	logging.Errorf("Premium webhook failed after %d attempts - url: %s, pairing_id: %s",
		maxRetries, wn.callbackURL, payload.PairingID)
}

func (wn *WebhookNotifier) sendWebhook(payload PremiumWebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wn.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "entitlement-api-webhook/1.0")
	if wn.secret != "" {
		req.Header.Set("X-Signature", SignPayload(jsonData, wn.secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
