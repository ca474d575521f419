package catalog

import "sort"

// startNodeType is the manual trigger node; it never counts as an integration.
const startNodeType = "n8n-nodes-base.start"

// nodeIntegrations maps workflow node types to integration names.
// The names match the integration service keys so they can be gated on.
var nodeIntegrations = map[string]string{
	"n8n-nodes-base.telegram":     "telegram",
	"n8n-nodes-base.gmail":        "gmail",
	"n8n-nodes-base.googleSheets": "google_sheets",
	"n8n-nodes-base.slack":        "slack",
	"n8n-nodes-base.discord":      "discord",
	"n8n-nodes-base.webhook":      "webhook",
	"n8n-nodes-base.httpRequest":  "http_request",
	"n8n-nodes-base.openAi":       "openai",
	"n8n-nodes-base.airtable":     "airtable",
}

// Node is the part of a workflow graph node the scanner reads.
type Node struct {
	Type string `json:"type"`
}

// WorkflowGraph is the part of workflow.json the scanner reads.
type WorkflowGraph struct {
	Nodes []Node `json:"nodes"`
}

// IntegrationsFor returns the sorted, de-duplicated integrations used by
// nodes. Unknown node types and the start node contribute nothing.
func IntegrationsFor(nodes []Node) []string {
	seen := make(map[string]bool)
	for _, n := range nodes {
		if n.Type == "" || n.Type == startNodeType {
			continue
		}
		if name, ok := nodeIntegrations[n.Type]; ok {
			seen[name] = true
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
