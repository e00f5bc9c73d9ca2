package pos

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

const (
	WebhookOrderCreated = "order.created"
	WebhookOrderUpdated = "order.updated"
)

// VerifyWebhookSignature checks the provider's HMAC-SHA256 signature over
// the notification URL concatenated with the raw request body.
func VerifyWebhookSignature(secret, notificationURL string, body []byte, signatureHeader string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	expected := mac.Sum(nil)

	actual, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return false
	}
	return hmac.Equal(actual, expected)
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			Order rawOrder `json:"order"`
		} `json:"object"`
	} `json:"data"`
}

var errUnknownWebhookType = errors.New("unknown webhook event type")

// ParseWebhookEvent extracts and normalizes the order from a verified
// webhook body. Unknown event types and unmappable records are rejected
// whole.
func ParseWebhookEvent(body []byte, rushMarker string) (eventType string, order Order, err error) {
	var envelope webhookEnvelope
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&envelope); err != nil {
		return "", Order{}, err
	}

	switch envelope.Type {
	case WebhookOrderCreated, WebhookOrderUpdated:
	default:
		return "", Order{}, errUnknownWebhookType
	}

	order, err = normalizeOrder(envelope.Data.Object.Order, rushMarker)
	if err != nil {
		return "", Order{}, err
	}
	return envelope.Type, order, nil
}
