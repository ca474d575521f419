package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/registry"
	"github.com/nerrad567/divert-core/internal/vault"
)

// automationDetail is a catalog definition as the store presents it. The
// credential fields are filled only for authenticated callers.
type automationDetail struct {
	registry.Definition
	CredentialStatus   map[string]bool `json:"credential_status,omitempty"`
	MissingCredentials []string        `json:"missing_credentials,omitempty"`
	CanExecute         *bool           `json:"can_execute,omitempty"`
}

// kindStats is one catalog's share of the store statistics.
type kindStats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
}

// handleListAutomations returns active catalog definitions. Clones are
// per-user and never listed.
//
// Query parameters:
//   - kind: team or workflow (default both)
//   - category: exact category match
//   - search: case-insensitive match on name and description
func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kinds := []catalog.Kind{catalog.KindTeam, catalog.KindWorkflow}
	if v := q.Get("kind"); v != "" {
		kind, err := catalog.ParseKind(v)
		if err != nil {
			writeBadRequest(w, "kind must be team or workflow")
			return
		}
		kinds = []catalog.Kind{kind}
	}

	filter := registry.DefinitionFilter{
		ActiveOnly:    true,
		ExcludeClones: true,
		Category:      q.Get("category"),
		Search:        strings.TrimSpace(q.Get("search")),
	}

	automations := make([]registry.Definition, 0)
	for _, kind := range kinds {
		defs, err := s.registry.ListDefinitions(r.Context(), kind, filter)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		automations = append(automations, defs...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"automations": automations,
		"count":       len(automations),
	})
}

// handleGetTeam returns one active agent-team definition.
func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	s.writeDefinition(w, r, catalog.KindTeam)
}

// handleGetWorkflow returns one active workflow definition.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	s.writeDefinition(w, r, catalog.KindWorkflow)
}

func (s *Server) writeDefinition(w http.ResponseWriter, r *http.Request, kind catalog.Kind) {
	def, err := s.registry.GetDefinition(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !def.IsActive || def.IsClone() {
		writeNotFound(w, "automation not found")
		return
	}

	detail := automationDetail{Definition: *def}
	if uid := userID(r); uid != "" && s.vault != nil {
		status, err := s.vault.ValidateRequired(r.Context(), uid, def.RequiredCredentials)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		missing := vault.Missing(def.RequiredCredentials, status)
		canExecute := len(missing) == 0
		detail.CredentialStatus = status
		detail.MissingCredentials = missing
		detail.CanExecute = &canExecute
	}

	writeJSON(w, http.StatusOK, detail)
}

// handleListCategories returns the categories used across both catalogs.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]struct{})
	sources := make(map[string]int, 2)
	for _, kind := range []catalog.Kind{catalog.KindTeam, catalog.KindWorkflow} {
		cats, err := s.registry.Categories(r.Context(), kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		sources[string(kind)] = len(cats)
		for _, c := range cats {
			seen[c] = struct{}{}
		}
	}

	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	writeJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"count":      len(categories),
		"sources":    sources,
	})
}

// handleStoreStats returns definition counts per kind and category.
func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	total := 0
	byKind := make(map[string]kindStats, 2)
	for _, kind := range []catalog.Kind{catalog.KindTeam, catalog.KindWorkflow} {
		counts, err := s.registry.CategoryCounts(r.Context(), kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		st := kindStats{ByCategory: make(map[string]int, len(counts))}
		for cat, n := range counts {
			st.Total += n
			if cat != "" {
				st.ByCategory[cat] = n
			}
		}
		total += st.Total
		byKind[string(kind)] = st
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_automations": total,
		"teams":             byKind[string(catalog.KindTeam)],
		"workflows":         byKind[string(catalog.KindWorkflow)],
	})
}
