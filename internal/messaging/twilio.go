package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature checks X-Twilio-Signature against the form body.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	payload := buildSignaturePayload(webhookURL, r.PostForm)
	expected := computeSignature(payload, authToken)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// buildSignaturePayload is the URL followed by every key and value in key order.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// TwilioWebhookRequest is an inbound SMS webhook.
type TwilioWebhookRequest struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
}

// ParseTwilioWebhook reads the form fields of an inbound SMS webhook.
func ParseTwilioWebhook(r *http.Request) (*TwilioWebhookRequest, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	return &TwilioWebhookRequest{
		MessageSid: strings.TrimSpace(r.FormValue("MessageSid")),
		AccountSid: r.FormValue("AccountSid"),
		From:       r.FormValue("From"),
		To:         r.FormValue("To"),
		Body:       r.FormValue("Body"),
	}, nil
}

// TwilioCallStatus is a voice status callback for a call to a clinic number.
type TwilioCallStatus struct {
	CallSid    string
	CallStatus string
	From       string
	To         string
}

// ParseTwilioCallStatus reads a voice status callback.
func ParseTwilioCallStatus(r *http.Request) (*TwilioCallStatus, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	return &TwilioCallStatus{
		CallSid:    strings.TrimSpace(r.FormValue("CallSid")),
		CallStatus: strings.ToLower(strings.TrimSpace(r.FormValue("CallStatus"))),
		From:       r.FormValue("From"),
		To:         r.FormValue("To"),
	}, nil
}

// Missed reports whether the call ended without anyone picking up.
func (s *TwilioCallStatus) Missed() bool {
	switch s.CallStatus {
	case "no-answer", "busy", "failed", "canceled":
		return true
	default:
		return false
	}
}

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
