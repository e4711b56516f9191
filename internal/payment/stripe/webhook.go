package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	syncdomain "github.com/reviewloop/reviewloop/internal/billingsync/domain"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
)

// WebhookVerifier checks Stripe-Signature headers and normalizes raw event
// payloads into sync events.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(p Params) (*WebhookVerifier, error) {
	secret := strings.TrimSpace(p.Cfg.StripeWebhookSecret)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	return &WebhookVerifier{secret: secret}, nil
}

func (v *WebhookVerifier) Verify(payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes a Stripe-Signature header value for a payload. Test helper.
func (v *WebhookVerifier) Sign(timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type rawSubscription struct {
	ID string `json:"id"`
}

type rawInvoice struct {
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// Parse extracts the normalized event. The subscription reference lives in a
// different spot depending on the object type; invoices moved theirs under
// parent.subscription_details in newer API versions, so both are tried.
func (v *WebhookVerifier) Parse(payload []byte) (syncdomain.Event, error) {
	var event rawEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return syncdomain.Event{}, ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return syncdomain.Event{}, ErrInvalidPayload
	}

	out := syncdomain.Event{
		ID:   event.ID,
		Type: event.Type,
	}

	switch event.Type {
	case syncdomain.EventSubscriptionCreated,
		syncdomain.EventSubscriptionUpdated,
		syncdomain.EventSubscriptionDeleted:
		var sub rawSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return syncdomain.Event{}, ErrInvalidPayload
		}
		out.SubscriptionID = sub.ID
	case syncdomain.EventInvoicePaid:
		var invoice rawInvoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			return syncdomain.Event{}, ErrInvalidPayload
		}
		out.SubscriptionID = invoice.Subscription
		if out.SubscriptionID == "" && invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
			out.SubscriptionID = invoice.Parent.SubscriptionDetails.Subscription
		}
	}
	return out, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
