package clone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Placeholder names recognised in templates, written as {{NAME}}.
const (
	PlaceholderWorkflowID = "WORKFLOW_ID"
	PlaceholderWebhookID  = "WEBHOOK_ID"
	PlaceholderUserID     = "USER_ID"

	// CredentialPlaceholderPrefix is followed by the upper-cased service
	// name, e.g. {{CREDENTIAL_ID_GOOGLE_DRIVE}}.
	CredentialPlaceholderPrefix = "CREDENTIAL_ID_"
)

const webhookNodeType = "n8n-nodes-base.webhook"

// readOnlyFields are assigned by the engine and rejected on create.
var readOnlyFields = []string{"id", "active", "createdAt", "updatedAt"}

// CredentialMap maps a service name to the engine's credential id. Ids may
// arrive as JSON strings or numbers.
type CredentialMap map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (m *CredentialMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(CredentialMap, len(raw))
	for service, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[service] = s
			continue
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("credential %q: id must be a string or number", service)
		}
		out[service] = n.String()
	}
	*m = out
	return nil
}

// Services returns the map's service names, sorted.
func (m CredentialMap) Services() []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Values holds what a template is rendered with.
type Values struct {
	WorkflowID  string
	WebhookID   string
	UserID      string
	Credentials CredentialMap
}

func (v Values) replacer() *strings.Replacer {
	pairs := []string{
		token(PlaceholderWorkflowID), v.WorkflowID,
		token(PlaceholderWebhookID), v.WebhookID,
		token(PlaceholderUserID), v.UserID,
	}
	for _, service := range v.Credentials.Services() {
		pairs = append(pairs, token(CredentialPlaceholderPrefix+credentialKey(service)), v.Credentials[service])
	}
	return strings.NewReplacer(pairs...)
}

func token(name string) string {
	return "{{" + name + "}}"
}

// credentialKey turns "google-drive" or "google_drive" into GOOGLE_DRIVE.
func credentialKey(service string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(service)))
}

// Render returns a rendered deep copy of doc. Placeholders are replaced
// wherever they appear inside string values, whole or embedded. Map keys
// and non-string values are copied unchanged, as are unknown placeholders.
func Render(doc map[string]any, v Values) map[string]any {
	out, _ := render(doc, v.replacer()).(map[string]any)
	return out
}

func render(node any, r *strings.Replacer) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[k] = render(val, r)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = render(val, r)
		}
		return out
	case string:
		if !strings.Contains(n, "{{") {
			return n
		}
		return r.Replace(n)
	default:
		return n
	}
}

// personalise renders a template into the create body of a user's clone.
func personalise(doc map[string]any, name string, v Values) map[string]any {
	out := Render(doc, v)
	for _, f := range readOnlyFields {
		delete(out, f)
	}
	out["name"] = name
	return out
}

// cloneName is the engine-side and local name of a clone.
func cloneName(templateName, userID string) string {
	return fmt.Sprintf("%s - User %s", templateName, userID)
}

// webhookPath returns the path of the first webhook node in doc.
func webhookPath(doc map[string]any) string {
	nodes, _ := doc["nodes"].([]any)
	for _, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := node["type"].(string); t != webhookNodeType {
			continue
		}
		params, _ := node["parameters"].(map[string]any)
		if p, _ := params["path"].(string); p != "" {
			return strings.TrimPrefix(p, "/")
		}
	}
	return ""
}
