package messaging

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
)

// ErrUndeliverable marks a send the provider refused because of the
// recipient: carrier-level opt-out, invalid or landline number. Another
// attempt or another provider gets the same answer.
var ErrUndeliverable = errors.New("messaging: recipient undeliverable")

const (
	sendMaxAttempts  = 3
	maxProviderReply = 8192
)

// providerCall posts one message. build is called per attempt since request
// bodies cannot be replayed; failure turns a non-2xx reply into an error.
type providerCall struct {
	client  *http.Client
	backoff func(attempt int) time.Duration
	build   func(ctx context.Context) (*http.Request, error)
	failure func(status int, body []byte) error
}

// do returns the body of the first 2xx reply. Transport errors, 429 and 5xx
// are retried up to sendMaxAttempts; anything else is final.
func (c providerCall) do(ctx context.Context) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= sendMaxAttempts; attempt++ {
		req, err := c.build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProviderReply))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return body, nil
			}
			lastErr = c.failure(resp.StatusCode, body)
			if !retryableStatus(resp.StatusCode) {
				return nil, lastErr
			}
		}

		if attempt < sendMaxAttempts {
			if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func validateReply(msg conversation.OutboundReply) error {
	if msg.To == "" {
		return errors.New("messaging: to required")
	}
	if msg.From == "" {
		return errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}
	return nil
}

// Don't retry non-rate-limit 4xx errors.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func jitterBackoff(int) time.Duration {
	return time.Duration(200+rand.Intn(300)) * time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
