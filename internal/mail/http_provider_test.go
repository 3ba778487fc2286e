package mail_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/registration-service/internal/mail"
)

func TestHTTPProviderSendsJSON(t *testing.T) {
	var got mail.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	provider := mail.NewHTTPProvider(srv.URL, "key-1", time.Second)
	err := provider.Send(context.Background(), mail.Message{To: "a@example.com", Subject: "hi", Template: "approval"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.To)
	assert.Equal(t, "approval", got.Template)
}

func TestHTTPProviderRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := mail.NewHTTPProvider(srv.URL, "", time.Second).Send(context.Background(), mail.Message{To: "a@example.com"})
	require.ErrorIs(t, err, mail.ErrRateLimited)
	assert.Equal(t, 3*time.Second, mail.RetryAfter(err))
}

func TestHTTPProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := mail.NewHTTPProvider(srv.URL, "", time.Second).Send(context.Background(), mail.Message{To: "a@example.com"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, mail.ErrRateLimited))

	var perr *mail.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.Contains(t, perr.Message, "mailbox unavailable")
}

func TestHTTPProviderHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mail.NewHTTPProvider(srv.URL, "", time.Second).Send(ctx, mail.Message{To: "a@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
