package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTester_Telegram(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/botgood-token/getMe" {
			w.Write([]byte(`{"ok":true}`)) //nolint:errcheck // test server
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tester := NewTester(srv.Client())
	tester.TelegramBaseURL = srv.URL

	ok, err := tester.Test(context.Background(), "telegram", map[string]string{"bot_token": "good-token"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tester.Test(context.Background(), "telegram", map[string]string{"bot_token": "bad-token"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTester_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" && r.Header.Get("Authorization") == "Bearer sk-live" {
			w.Write([]byte(`{"data":[]}`)) //nolint:errcheck // test server
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tester := NewTester(srv.Client())
	tester.OpenAIBaseURL = srv.URL

	ok, err := tester.Test(context.Background(), "openai", map[string]string{"api_key": "sk-live"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tester.Test(context.Background(), "openai", map[string]string{"api_key": "sk-revoked"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTester_GoogleRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("refresh_token") != "valid-refresh" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`)) //nolint:errcheck // test server
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ya29.token","token_type":"Bearer","expires_in":3600}`)) //nolint:errcheck // test server
	}))
	defer srv.Close()

	tester := NewTester(srv.Client())
	tester.GoogleTokenURL = srv.URL

	creds := map[string]string{"client_id": "cid", "client_secret": "cs", "refresh_token": "valid-refresh"}
	ok, err := tester.Test(context.Background(), "gmail", creds)
	require.NoError(t, err)
	assert.True(t, ok)

	creds["refresh_token"] = "revoked"
	ok, err = tester.Test(context.Background(), "google_drive", creds)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTester_ShapeChecks(t *testing.T) {
	tester := NewTester(nil)

	tests := []struct {
		service string
		creds   map[string]string
		want    bool
	}{
		{"discord", map[string]string{"webhook_url": "https://discord.com/api/webhooks/1/abc"}, true},
		{"discord", map[string]string{"webhook_url": "https://evil.example/discord.com/api/webhooks"}, false},
		{"slack", map[string]string{"webhook_url": "https://hooks.slack.com/services/T/B/X"}, true},
		{"slack", map[string]string{"webhook_url": "http://hooks.slack.com/services/T/B/X"}, false},
		{"notion", map[string]string{"token": "secret_abc"}, true},
		{"notion", map[string]string{"token": "abc"}, false},
		{"stripe", map[string]string{"secret_key": "sk_test_123"}, true},
		{"twitter", map[string]string{"api_key": "a", "api_secret": "b", "access_token": "c", "access_token_secret": "d"}, true},
		{"twitter", map[string]string{"api_key": "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			ok, err := tester.Test(context.Background(), tt.service, tt.creds)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestTester_Unsupported(t *testing.T) {
	_, err := NewTester(nil).Test(context.Background(), "myspace", nil)
	require.ErrorIs(t, err, ErrUnsupportedService)
}

func TestTester_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tester := NewTester(nil)
	tester.TelegramBaseURL = url

	ok, err := tester.Test(context.Background(), "telegram", map[string]string{"bot_token": "t"})
	require.ErrorIs(t, err, ErrProbeFailed)
	assert.False(t, ok)
}
