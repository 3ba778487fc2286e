// Package mail turns outbox entries into messages and hands them to an email
// provider.
package mail

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is matched by errors returned when the provider answers 429.
var ErrRateLimited = errors.New("email provider rate limited")

// Message is one rendered email.
type Message struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Text     string            `json:"text"`
	Template string            `json:"template"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Provider delivers a single message.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// RateLimitError reports a 429. RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ProviderError is any non rate-limit rejection.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("email provider: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("email provider: status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("email provider: status %d", e.StatusCode)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RetryAfter returns the provider hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
