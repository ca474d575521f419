// Package integration describes the third-party services a user can connect
// and tests the credentials they supply.
package integration

import (
	"sort"
	"strings"

	"github.com/nerrad567/divert-core/internal/vault"
)

// Field describes one credential input.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // text, password, textarea
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Template is the static description of a supported service.
type Template struct {
	Service      string     `json:"service_name"`
	DisplayName  string     `json:"display_name"`
	Kind         vault.Kind `json:"service_type"`
	Fields       []Field    `json:"fields"`
	Instructions string     `json:"instructions"`
	Icon         string     `json:"icon"`
}

func secret(name, desc string) Field { return Field{Name: name, Type: "password", Required: true, Description: desc} }
func text(name, desc string) Field   { return Field{Name: name, Type: "text", Required: true, Description: desc} }
func optional(name, desc string) Field {
	return Field{Name: name, Type: "text", Required: false, Description: desc}
}

var templates = map[string]Template{
	"telegram": {
		Kind:   vault.KindAPIKey,
		Fields: []Field{secret("bot_token", "Telegram bot token"), optional("chat_id", "Chat ID (optional)")},
		Instructions: "1. Create a bot with @BotFather on Telegram\n2. Copy the token it gives you\n" +
			"3. Optional: send /start to the bot to learn your chat_id",
	},
	"gmail": {
		Kind: vault.KindOAuth,
		Fields: []Field{
			text("client_id", "Google client ID"),
			secret("client_secret", "Google client secret"),
			secret("refresh_token", "Refresh token"),
		},
		Instructions: "1. Create a project in Google Cloud Console\n2. Enable the Gmail API\n" +
			"3. Create OAuth 2.0 credentials\n4. Authorise the app and copy the refresh token",
	},
	"slack": {
		Kind:         vault.KindAPIKey,
		Fields:       []Field{secret("webhook_url", "Slack incoming webhook URL"), optional("channel", "Default channel")},
		Instructions: "1. Open your Slack workspace\n2. Create a new app\n3. Add an incoming webhook\n4. Copy the webhook URL",
	},
	"discord": {
		Kind:   vault.KindAPIKey,
		Fields: []Field{secret("webhook_url", "Discord webhook URL"), optional("username", "Bot username (optional)")},
		Instructions: "1. Open your Discord server settings\n2. Integrations > Webhooks\n" +
			"3. Create a new webhook\n4. Copy the URL",
	},
	"openai": {
		Kind:   vault.KindAPIKey,
		Fields: []Field{secret("api_key", "OpenAI API key"), optional("organization", "Organisation ID (optional)")},
		Instructions: "1. Sign in to platform.openai.com\n2. Open API keys\n" +
			"3. Create a new secret key\n4. Copy the key",
	},
	"google_sheets": {
		Kind: vault.KindServiceAccount,
		Fields: []Field{
			text("service_account_email", "Service account email"),
			{Name: "private_key", Type: "textarea", Required: true, Description: "Service account private key"},
		},
		Instructions: "1. Create a project in Google Cloud Console\n2. Enable the Google Sheets API\n" +
			"3. Create a service account\n4. Download the JSON key and copy the values",
	},
	"google_drive": {
		Kind: vault.KindOAuth,
		Fields: []Field{
			text("client_id", "Google client ID"),
			secret("client_secret", "Google client secret"),
			secret("refresh_token", "Refresh token"),
		},
		Instructions: "1. Create a project in Google Cloud Console\n2. Enable the Google Drive API\n" +
			"3. Create OAuth 2.0 credentials\n4. Authorise the app and copy the refresh token",
	},
	"twitter": {
		Kind: vault.KindOAuth,
		Fields: []Field{
			text("api_key", "Twitter API key"),
			secret("api_secret", "Twitter API secret"),
			secret("access_token", "Access token"),
			secret("access_token_secret", "Access token secret"),
		},
		Instructions: "1. Create an app on developer.twitter.com\n2. Generate API keys\n" +
			"3. Enable OAuth 1.0a\n4. Copy every token",
	},
	"notion": {
		Kind:   vault.KindAPIKey,
		Fields: []Field{secret("token", "Notion integration token"), optional("database_id", "Database ID (optional)")},
		Instructions: "1. Go to notion.so/my-integrations\n2. Create a new integration\n" +
			"3. Copy the token\n4. Share your pages with the integration",
	},
	"airtable": {
		Kind:         vault.KindAPIKey,
		Fields:       []Field{secret("api_key", "Airtable API key or personal access token"), optional("base_id", "Base ID (optional)")},
		Instructions: "1. Open your Airtable account\n2. Create a personal access token\n3. Find your base ID\n4. Copy both",
	},
	"hubspot": {
		Kind:   vault.KindAPIKey,
		Fields: []Field{secret("api_key", "HubSpot private app token"), optional("portal_id", "Portal ID (optional)")},
		Instructions: "1. Open HubSpot settings\n2. Integrations > Private apps\n" +
			"3. Create an app and copy its token",
	},
	"stripe": {
		Kind:         vault.KindAPIKey,
		Fields:       []Field{secret("secret_key", "Stripe secret key"), optional("publishable_key", "Publishable key (optional)")},
		Instructions: "1. Sign in to the Stripe dashboard\n2. Open API keys\n3. Reveal the secret key\n4. Copy the keys",
	},
	"zapier": {
		Kind:         vault.KindAPIKey,
		Fields:       []Field{secret("webhook_url", "Zapier catch hook URL")},
		Instructions: "1. Create a new Zap\n2. Use Webhooks as the trigger\n3. Copy the webhook URL",
	},
}

// Lookup returns the template for a service. Names are case-insensitive.
func Lookup(service string) (Template, bool) {
	name := strings.ToLower(service)
	t, ok := templates[name]
	if !ok {
		return Template{}, false
	}
	return decorate(name, t), true
}

// All returns every template ordered by service name.
func All() []Template {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Template, 0, len(names))
	for _, name := range names {
		out = append(out, decorate(name, templates[name]))
	}
	return out
}

// MissingFields returns the required fields of t that are absent or empty
// in creds, in template order.
func MissingFields(t Template, creds map[string]string) []string {
	var missing []string
	for _, f := range t.Fields {
		if f.Required && strings.TrimSpace(creds[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func decorate(name string, t Template) Template {
	t.Service = name
	t.DisplayName = displayName(name)
	t.Icon = "/icons/" + name + ".svg"
	return t
}

// displayName turns "google_sheets" into "Google Sheets".
func displayName(service string) string {
	words := strings.Split(service, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
