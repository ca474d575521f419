package clone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/engine/n8n"
	"github.com/nerrad567/divert-core/internal/execution"
	"github.com/nerrad567/divert-core/internal/registry"
)

// requiredServicesKey is the descriptor field listing the services a
// template needs credentials for.
const requiredServicesKey = "required_services"

// Logger is the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine is the remote workflow engine as cloning uses it.
type Engine interface {
	CreateWorkflow(ctx context.Context, doc map[string]any) (string, error)
	Activate(ctx context.Context, id string) error
	DeleteWorkflow(ctx context.Context, id string) error
	WebhookURL(path string) string
}

// Executions removes the history of a deleted clone.
type Executions interface {
	DeleteByDefinition(ctx context.Context, kind catalog.Kind, definitionID string) (int64, error)
}

// Template is a cloneable workflow catalog entry.
type Template struct {
	registry.Definition
	RequiredServices []string `json:"required_services"`
}

// Result describes a created clone.
type Result struct {
	ExternalID   string `json:"workflow_id"`
	WebhookURL   string `json:"webhook_url"`
	DefinitionID string `json:"definition_id"`
	InstanceID   string `json:"instance_id"`
	Activated    bool   `json:"activated"`
}

// Service creates and deletes per-user clones of workflow templates.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Service struct {
	workflowsDir string
	repo         registry.Repository
	engine       Engine
	executions   Executions
	trail        *audit.Trail
	logger       Logger

	// locks serialises clones of one template by one user, from the
	// already-cloned check through the local writes. Different users and
	// templates never wait on each other.
	mu    sync.Mutex
	locks map[string]*cloneLock
}

type cloneLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a clone service reading templates from workflowsDir.
func NewService(workflowsDir string, repo registry.Repository, engine Engine, executions Executions) *Service {
	return &Service{
		workflowsDir: workflowsDir,
		repo:         repo,
		engine:       engine,
		executions:   executions,
		logger:       noopLogger{},
		locks:        make(map[string]*cloneLock),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetAuditTrail sets where clone and delete operations are recorded.
func (s *Service) SetAuditTrail(trail *audit.Trail) {
	s.trail = trail
}

// Templates lists the active workflow catalog entries that can be cloned,
// with the services each one requires.
func (s *Service) Templates(ctx context.Context) ([]Template, error) {
	defs, err := s.repo.ListDefinitions(ctx, catalog.KindWorkflow, registry.DefinitionFilter{
		ActiveOnly:    true,
		ExcludeClones: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Template, 0, len(defs))
	for _, def := range defs {
		services, err := s.requiredServices(def.FolderName)
		if err != nil {
			s.logger.Warn("skipping template with unreadable descriptor", "folder", def.FolderName, "error", err)
			continue
		}
		out = append(out, Template{Definition: def, RequiredServices: services})
	}
	return out, nil
}

// Clone creates userID's copy of template.
//
// Parameters:
//   - template: the workflow catalog folder name
//   - creds: engine credential ids keyed by service name
//
// Returns:
//   - *Result: the engine id, webhook URL and local ids of the clone
//   - error: ErrTemplateNotFound, *execution.MissingCredentialsError,
//     ErrAlreadyCloned, execution.ErrEngineUnavailable, or a store error
func (s *Service) Clone(ctx context.Context, userID, template string, creds CredentialMap) (*Result, error) {
	doc, err := catalog.ReadWorkflowDocument(s.workflowsDir, template)
	if err != nil {
		if errors.Is(err, catalog.ErrEntryNotFound) || errors.Is(err, catalog.ErrInvalidFolder) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, template)
		}
		return nil, fmt.Errorf("loading template %s: %w", template, err)
	}

	required, err := s.requiredServices(template)
	if err != nil {
		return nil, err
	}
	// A template that declares nothing is always cloneable
	var missing []string
	for _, service := range required {
		if _, ok := creds[service]; !ok {
			missing = append(missing, service)
		}
	}
	if len(missing) > 0 {
		return nil, &execution.MissingCredentialsError{Services: missing}
	}

	unlock := s.lockClone(userID, template)
	defer unlock()

	existing, err := s.repo.FindActiveClone(ctx, userID, template)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s (definition %s)", ErrAlreadyCloned, template, existing.ID)
	case !errors.Is(err, registry.ErrDefinitionNotFound):
		return nil, fmt.Errorf("checking existing clone: %w", err)
	}

	templateName, _ := doc["name"].(string)
	if templateName == "" {
		templateName = template
	}
	values := Values{
		WorkflowID:  uuid.NewString(),
		WebhookID:   uuid.NewString(),
		UserID:      userID,
		Credentials: creds,
	}
	name := cloneName(templateName, userID)
	body := personalise(doc, name, values)

	externalID, err := s.engine.CreateWorkflow(ctx, body)
	if err != nil {
		s.logger.Error("engine rejected clone", "template", template, "user_id", userID, "error", err)
		if errors.Is(err, n8n.ErrUnreachable) || errors.Is(err, n8n.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: %w", execution.ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("creating clone on engine: %w", err)
	}

	activated := true
	if err := s.engine.Activate(ctx, externalID); err != nil {
		activated = false
		s.logger.Warn("clone created but not activated", "external_id", externalID, "error", err)
	}

	path := webhookPath(body)
	if path == "" {
		path = values.WebhookID
	}
	webhookURL := s.engine.WebhookURL(path)

	def := &registry.Definition{
		Kind:                catalog.KindWorkflow,
		FolderName:          fmt.Sprintf("%s_user_%s_%s", template, userID, uuid.NewString()[:8]),
		Name:                name,
		Description:         registry.ClonedDescription(template),
		Category:            registry.ClonedCategory,
		RequiredCredentials: creds.Services(),
		NodeCount:           nodeCount(body),
		ExternalID:          externalID,
		Metadata: map[string]any{
			"template":    template,
			"webhook_url": webhookURL,
		},
		IsActive: true,
	}
	if err := s.repo.CreateDefinition(ctx, def); err != nil {
		s.logger.Error("clone exists on engine but was not recorded",
			"external_id", externalID,
			"template", template,
			"user_id", userID,
			"error", err,
		)
		return nil, err
	}

	inst := &registry.Instance{
		UserID:       userID,
		Kind:         catalog.KindWorkflow,
		DefinitionID: def.ID,
		Name:         name,
		IsActive:     true,
		IsEnabled:    activated,
	}
	if err := s.repo.CreateInstance(ctx, inst); err != nil {
		s.logger.Error("clone definition orphaned",
			"definition_id", def.ID,
			"external_id", externalID,
			"user_id", userID,
			"error", err,
		)
		return nil, err
	}

	s.trail.Record(ctx, audit.AuditLog{
		Action:     audit.ActionClone,
		EntityType: "workflow",
		EntityID:   def.ID,
		UserID:     userID,
		Source:     audit.SourceAPI,
		Details: map[string]any{
			"template":    template,
			"external_id": externalID,
			"instance_id": inst.ID,
			"activated":   activated,
		},
	})
	s.logger.Info("workflow cloned",
		"template", template,
		"user_id", userID,
		"definition_id", def.ID,
		"external_id", externalID,
		"activated", activated,
	)

	return &Result{
		ExternalID:   externalID,
		WebhookURL:   webhookURL,
		DefinitionID: def.ID,
		InstanceID:   inst.ID,
		Activated:    activated,
	}, nil
}

// Delete removes a user's clone: the engine workflow (best effort), its
// execution history, the instance and the definition.
func (s *Service) Delete(ctx context.Context, userID, instanceID string) error {
	inst, err := s.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.UserID != userID || !inst.IsActive {
		return registry.ErrInstanceNotFound
	}
	if inst.Kind != catalog.KindWorkflow {
		return ErrNotClone
	}
	def, err := s.repo.GetDefinition(ctx, catalog.KindWorkflow, inst.DefinitionID)
	if err != nil {
		return err
	}
	if !def.IsClone() {
		return ErrNotClone
	}

	if def.ExternalID != "" {
		if err := s.engine.DeleteWorkflow(ctx, def.ExternalID); err != nil && !n8n.IsNotFound(err) {
			s.logger.Warn("failed to delete clone on engine", "external_id", def.ExternalID, "error", err)
		}
	}

	removed, err := s.executions.DeleteByDefinition(ctx, catalog.KindWorkflow, def.ID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteInstance(ctx, inst.ID); err != nil {
		return err
	}
	if err := s.repo.DeleteDefinition(ctx, catalog.KindWorkflow, def.ID); err != nil {
		return err
	}

	s.trail.Record(ctx, audit.AuditLog{
		Action:     audit.ActionCloneDelete,
		EntityType: "workflow",
		EntityID:   def.ID,
		UserID:     userID,
		Source:     audit.SourceAPI,
		Details: map[string]any{
			"external_id":        def.ExternalID,
			"executions_removed": removed,
		},
	})
	s.logger.Info("clone deleted", "user_id", userID, "definition_id", def.ID, "executions_removed", removed)
	return nil
}

// requiredServices reads the template descriptor. A missing descriptor
// declares nothing.
func (s *Service) requiredServices(template string) ([]string, error) {
	meta, err := catalog.ReadDescriptor(s.workflowsDir, template, catalog.KindWorkflow)
	if err != nil {
		if errors.Is(err, catalog.ErrEntryNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading template descriptor: %w", err)
	}
	return catalog.StringList(meta, requiredServicesKey), nil
}

func nodeCount(doc map[string]any) int {
	nodes, _ := doc["nodes"].([]any)
	return len(nodes)
}

// lockClone takes the lock for (userID, template) and returns its release.
// Entries are dropped once nobody holds or waits on them.
func (s *Service) lockClone(userID, template string) func() {
	key := userID + "/" + template

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &cloneLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
