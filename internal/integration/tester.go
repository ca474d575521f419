package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Default probe endpoints.
const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultGoogleTokenURL  = "https://oauth2.googleapis.com/token"
	defaultGoogleAuthURL   = "https://accounts.google.com/o/oauth2/auth"
	defaultProbeTimeout    = 10 * time.Second
)

// Tester checks whether a set of credentials works.
//
// Telegram and OpenAI are probed with an authenticated GET, Google OAuth
// services by exchanging the refresh token. Webhook and token services get a
// shape check; everything else passes when its required fields are present.
type Tester struct {
	client *http.Client

	// Endpoints, overridable for tests.
	TelegramBaseURL string
	OpenAIBaseURL   string
	GoogleTokenURL  string
}

// NewTester creates a Tester. A nil client gets a default with a 10s timeout.
func NewTester(client *http.Client) *Tester {
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	return &Tester{
		client:          client,
		TelegramBaseURL: defaultTelegramBaseURL,
		OpenAIBaseURL:   defaultOpenAIBaseURL,
		GoogleTokenURL:  defaultGoogleTokenURL,
	}
}

// Test reports whether creds are accepted by service.
//
// Returns:
//   - bool: true when the credentials work
//   - error: ErrUnsupportedService, or ErrProbeFailed when a live probe
//     could not complete (the result is then false)
func (t *Tester) Test(ctx context.Context, service string, creds map[string]string) (bool, error) {
	tmpl, ok := Lookup(service)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedService, service)
	}
	if len(MissingFields(tmpl, creds)) > 0 {
		return false, nil
	}

	switch tmpl.Service {
	case "telegram":
		return t.probeGET(ctx, t.TelegramBaseURL+"/bot"+url.PathEscape(creds["bot_token"])+"/getMe", nil)
	case "openai":
		headers := map[string]string{"Authorization": "Bearer " + creds["api_key"]}
		if org := creds["organization"]; org != "" {
			headers["OpenAI-Organization"] = org
		}
		return t.probeGET(ctx, t.OpenAIBaseURL+"/models", headers)
	case "gmail", "google_drive":
		return t.probeRefreshToken(ctx, creds)
	case "discord":
		return webhookHost(creds["webhook_url"], "discord.com", "discordapp.com"), nil
	case "slack":
		return webhookHost(creds["webhook_url"], "hooks.slack.com"), nil
	case "zapier":
		return webhookHost(creds["webhook_url"], "hooks.zapier.com"), nil
	case "notion":
		return hasPrefix(creds["token"], "secret_", "ntn_"), nil
	case "airtable":
		return hasPrefix(creds["api_key"], "key", "pat"), nil
	case "stripe":
		return hasPrefix(creds["secret_key"], "sk_", "rk_"), nil
	default:
		return true, nil
	}
}

func (t *Tester) probeGET(ctx context.Context, target string, headers map[string]string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// probeRefreshToken exchanges a Google refresh token for an access token.
// A rejected token is a failed test, not an error.
func (t *Tester) probeRefreshToken(ctx context.Context, creds map[string]string) (bool, error) {
	cfg := &oauth2.Config{
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		Endpoint: oauth2.Endpoint{
			AuthURL:   defaultGoogleAuthURL,
			TokenURL:  t.GoogleTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds["refresh_token"]}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	return tok.AccessToken != "", nil
}

func webhookHost(raw string, hosts ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	for _, h := range hosts {
		if u.Host == h {
			return true
		}
	}
	return false
}

func hasPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
