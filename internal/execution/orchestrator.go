package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/engine/agent"
	"github.com/nerrad567/divert-core/internal/engine/n8n"
	"github.com/nerrad567/divert-core/internal/events"
	"github.com/nerrad567/divert-core/internal/registry"
	"github.com/nerrad567/divert-core/internal/vault"
)

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

// Engine is the remote workflow engine as the orchestrator uses it.
type Engine interface {
	Probe(ctx context.Context) error
	CreateWorkflow(ctx context.Context, doc map[string]any) (string, error)
	Execute(ctx context.Context, id string, inputs map[string]any) (*n8n.ExecuteResult, error)
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
}

// Credentials checks which services a user has configured.
type Credentials interface {
	ValidateRequired(ctx context.Context, userID string, services []string) (map[string]bool, error)
}

// Config holds the catalog roots the orchestrator resolves folders against.
type Config struct {
	TeamsDir     string
	WorkflowsDir string
}

// Orchestrator runs definitions and keeps their execution records.
//
// Runs execute on the caller's goroutine. No store transaction is held
// across an engine call, and runs of the same instance are not serialised.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Orchestrator struct {
	cfg       Config
	registry  registry.Repository
	records   Repository
	teams     agent.Runner
	engine    Engine
	creds     Credentials
	publisher events.Publisher
	logger    Logger

	// installMu serialises first-use installs so one workflow is never
	// created twice on the engine.
	installMu sync.Mutex
}

// NewOrchestrator creates an orchestrator.
//
// Parameters:
//   - cfg: catalog roots
//   - reg: registry repository (definitions, instances, counters)
//   - records: execution record repository
//   - teams: local runner for team definitions
//   - engine: remote engine for workflow definitions
//   - creds: credential presence check, usually the vault
func NewOrchestrator(cfg Config, reg registry.Repository, records Repository, teams agent.Runner, engine Engine, creds Credentials) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		records:   records,
		teams:     teams,
		engine:    engine,
		creds:     creds,
		publisher: events.Nop{},
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	o.logger = logger
}

// SetPublisher sets where lifecycle events go.
func (o *Orchestrator) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	o.publisher = p
}

// Records returns the execution record repository.
func (o *Orchestrator) Records() Repository {
	return o.records
}

// RunInstance runs an instance owned by userID, dispatching on its kind.
//
// Returns:
//   - *Record: the terminal record, also returned alongside *FailedError
//   - error: registry.ErrInstanceNotFound, registry.ErrDefinitionInactive,
//     *MissingCredentialsError, ErrEngineUnavailable or *FailedError
func (o *Orchestrator) RunInstance(ctx context.Context, userID, instanceID string, inputs map[string]any) (*Record, error) {
	inst, def, err := o.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, userID, def, inst.ID, inputs)
}

// RunTeam runs a team instance owned by userID.
func (o *Orchestrator) RunTeam(ctx context.Context, userID, instanceID string, inputs map[string]any) (*Record, error) {
	inst, def, err := o.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if def.Kind != catalog.KindTeam {
		return nil, fmt.Errorf("%w: instance %s is a %s", registry.ErrInvalidKind, instanceID, def.Kind)
	}
	return o.runTeam(ctx, userID, def, inst.ID, inputs)
}

// RunWorkflow runs a workflow instance owned by userID.
func (o *Orchestrator) RunWorkflow(ctx context.Context, userID, instanceID string, inputs map[string]any) (*Record, error) {
	inst, def, err := o.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if def.Kind != catalog.KindWorkflow {
		return nil, fmt.Errorf("%w: instance %s is a %s", registry.ErrInvalidKind, instanceID, def.Kind)
	}
	return o.runWorkflow(ctx, userID, def, inst.ID, inputs)
}

// RunDefinition runs a catalog definition directly, without an instance.
// The same credential and engine gates apply.
func (o *Orchestrator) RunDefinition(ctx context.Context, userID string, kind catalog.Kind, definitionID string, inputs map[string]any) (*Record, error) {
	if !kind.Valid() {
		return nil, registry.ErrInvalidKind
	}
	def, err := o.registry.GetDefinition(ctx, kind, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, registry.ErrDefinitionInactive
	}
	return o.run(ctx, userID, def, "", inputs)
}

// SetActive turns an instance on or off. Workflow instances are toggled on
// the engine first; the local flag only changes when the engine accepted.
func (o *Orchestrator) SetActive(ctx context.Context, userID, instanceID string, active bool) (*registry.Instance, error) {
	inst, def, err := o.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}

	if def.Kind == catalog.KindWorkflow {
		externalID, err := o.ensureInstalled(ctx, def)
		if err != nil {
			return nil, err
		}
		if active {
			err = o.engine.Activate(ctx, externalID)
		} else {
			err = o.engine.Deactivate(ctx, externalID)
		}
		if err != nil {
			o.logger.Warn("engine rejected toggle",
				"instance_id", instanceID,
				"external_id", externalID,
				"active", active,
				"error", err,
			)
			return nil, engineError(err)
		}
	}

	if inst.IsEnabled != active {
		inst.IsEnabled = active
		if err := o.registry.UpdateInstance(ctx, inst); err != nil {
			return nil, err
		}
	}
	o.logger.Info("instance toggled", "instance_id", instanceID, "kind", def.Kind, "active", active)
	return inst, nil
}

// Get returns a record owned by userID.
func (o *Orchestrator) Get(ctx context.Context, userID, id string) (*Record, error) {
	return o.records.Get(ctx, userID, id)
}

// List returns records matching filter.
func (o *Orchestrator) List(ctx context.Context, filter Filter) ([]Record, error) {
	return o.records.List(ctx, filter)
}

func (o *Orchestrator) ownedInstance(ctx context.Context, userID, instanceID string) (*registry.Instance, *registry.Definition, error) {
	inst, err := o.registry.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if inst.UserID != userID || !inst.IsActive {
		return nil, nil, registry.ErrInstanceNotFound
	}
	def, err := o.registry.GetDefinition(ctx, inst.Kind, inst.DefinitionID)
	if err != nil {
		return nil, nil, err
	}
	if !def.IsActive {
		return nil, nil, registry.ErrDefinitionInactive
	}
	return inst, def, nil
}

func (o *Orchestrator) run(ctx context.Context, userID string, def *registry.Definition, instanceID string, inputs map[string]any) (*Record, error) {
	switch def.Kind {
	case catalog.KindTeam:
		return o.runTeam(ctx, userID, def, instanceID, inputs)
	case catalog.KindWorkflow:
		return o.runWorkflow(ctx, userID, def, instanceID, inputs)
	default:
		return nil, registry.ErrInvalidKind
	}
}

// runTeam is the local strategy.
func (o *Orchestrator) runTeam(ctx context.Context, userID string, def *registry.Definition, instanceID string, inputs map[string]any) (*Record, error) {
	if err := o.checkCredentials(ctx, userID, def.RequiredCredentials); err != nil {
		return nil, err
	}
	dir, err := catalog.EntryDir(o.cfg.TeamsDir, def.FolderName)
	if err != nil {
		return nil, err
	}

	rec := newRecord(userID, def, instanceID, inputs)
	return o.execute(ctx, rec, func(ctx context.Context) (outcome, error) {
		out, err := o.teams.Run(ctx, agent.Request{
			Folder: def.FolderName,
			Dir:    dir,
			Inputs: rec.Inputs,
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{outputs: out}, nil
	})
}

// runWorkflow is the remote strategy.
func (o *Orchestrator) runWorkflow(ctx context.Context, userID string, def *registry.Definition, instanceID string, inputs map[string]any) (*Record, error) {
	if err := o.checkCredentials(ctx, userID, def.RequiredCredentials); err != nil {
		return nil, err
	}
	if err := o.engine.Probe(ctx); err != nil {
		o.logger.Warn("engine probe failed", "definition_id", def.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	rec := newRecord(userID, def, instanceID, inputs)
	return o.execute(ctx, rec, func(ctx context.Context) (outcome, error) {
		externalID, err := o.ensureInstalled(ctx, def)
		if err != nil {
			return outcome{}, err
		}

		res, err := o.engine.Execute(ctx, externalID, rec.Inputs)
		if err != nil {
			return outcome{}, err
		}
		if !res.Success {
			o.logger.Warn("engine reported failure",
				"execution_id", rec.ID,
				"external_id", externalID,
				"engine_execution_id", res.ExecutionID,
			)
			return outcome{engineExecutionID: res.ExecutionID, failed: true}, nil
		}
		return outcome{outputs: res.Data, engineExecutionID: res.ExecutionID}, nil
	})
}

// outcome is what a strategy hands back to execute.
type outcome struct {
	outputs           any
	engineExecutionID string
	failed            bool // engine answered but reported an application failure
}

// execute creates the running record, runs fn and closes the record out.
// The record reaches a terminal state on every path, including a panic in
// fn and a cancelled ctx.
func (o *Orchestrator) execute(ctx context.Context, rec *Record, fn func(context.Context) (outcome, error)) (_ *Record, err error) {
	if err := o.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating execution record: %w", err)
	}
	o.logger.Info("execution started",
		"execution_id", rec.ID,
		"kind", rec.Kind,
		"definition_id", rec.DefinitionID,
		"instance_id", rec.InstanceID,
		"user_id", rec.UserID,
	)
	o.publish(ctx, events.ExecutionStarted, rec)

	done := false
	defer func() {
		if done {
			return
		}
		msg := "execution aborted"
		if r := recover(); r != nil {
			msg = fmt.Sprintf("panic: %v", r)
			o.logger.Error("execution panicked", "execution_id", rec.ID, "panic", r)
		}
		o.finish(ctx, rec, StatusFailed, nil, msg, "")
		err = &FailedError{ExecutionID: rec.ID, Err: errors.New(msg)}
	}()

	out, runErr := fn(ctx)
	done = true

	switch {
	case runErr != nil:
		o.finish(ctx, rec, StatusFailed, nil, runErr.Error(), "")
		return rec, &FailedError{ExecutionID: rec.ID, Err: runErr}
	case out.failed:
		o.finish(ctx, rec, StatusFailed, nil, "", out.engineExecutionID)
		return rec, nil
	default:
		if err := o.finish(ctx, rec, StatusSuccess, out.outputs, "", out.engineExecutionID); err != nil {
			return rec, &FailedError{ExecutionID: rec.ID, Err: err}
		}
		return rec, nil
	}
}

// finish records the terminal state, bumps the instance counters and
// publishes the completion event. It runs on a context detached from the
// caller's cancellation.
//
// A success whose outputs cannot be stored is recorded as failed instead,
// and the storage error is returned.
func (o *Orchestrator) finish(ctx context.Context, rec *Record, status Status, outputs any, errMsg, engineID string) error {
	ctx = context.WithoutCancel(ctx)

	now := time.Now().UTC()
	rec.Status = status
	rec.Outputs = outputs
	rec.ErrorMessage = errMsg
	rec.EngineExecutionID = engineID
	rec.CompletedAt = &now

	var downgraded error
	if err := o.records.Complete(ctx, rec); err != nil {
		o.logger.Error("failed to complete execution record", "execution_id", rec.ID, "status", status, "error", err)
		if status == StatusSuccess && !errors.Is(err, ErrAlreadyTerminal) {
			downgraded = fmt.Errorf("recording outputs: %w", err)
			status = StatusFailed
			rec.Status = StatusFailed
			rec.Outputs = nil
			rec.ErrorMessage = downgraded.Error()
			if retryErr := o.records.Complete(ctx, rec); retryErr != nil {
				o.logger.Error("failed to record execution as failed", "execution_id", rec.ID, "error", retryErr)
			}
		}
	}
	if rec.InstanceID != "" {
		if err := o.registry.RecordExecution(ctx, rec.InstanceID, status == StatusSuccess, now); err != nil {
			o.logger.Warn("failed to update instance counters", "instance_id", rec.InstanceID, "error", err)
		}
	}

	o.logger.Info("execution completed",
		"execution_id", rec.ID,
		"status", status,
		"duration_ms", rec.Duration().Milliseconds(),
	)
	o.publish(ctx, events.ExecutionCompleted, rec)
	return downgraded
}

// ensureInstalled returns the engine id of a workflow definition,
// installing workflow.json on the engine when it has none yet.
func (o *Orchestrator) ensureInstalled(ctx context.Context, def *registry.Definition) (string, error) {
	if def.ExternalID != "" {
		return def.ExternalID, nil
	}

	o.installMu.Lock()
	defer o.installMu.Unlock()

	// Another run may have installed it while we waited
	current, err := o.registry.GetDefinition(ctx, def.Kind, def.ID)
	if err != nil {
		return "", err
	}
	if current.ExternalID != "" {
		def.ExternalID = current.ExternalID
		return def.ExternalID, nil
	}

	doc, err := catalog.ReadWorkflowDocument(o.cfg.WorkflowsDir, def.FolderName)
	if err != nil {
		return "", fmt.Errorf("loading workflow document: %w", err)
	}

	externalID, err := o.engine.CreateWorkflow(ctx, installPayload(def, doc))
	if err != nil {
		return "", fmt.Errorf("installing workflow: %w", err)
	}
	if err := o.registry.SetExternalID(ctx, def.Kind, def.ID, externalID); err != nil {
		o.logger.Error("installed workflow but failed to persist its id",
			"definition_id", def.ID,
			"external_id", externalID,
			"error", err,
		)
		return "", err
	}
	def.ExternalID = externalID

	o.logger.Info("workflow installed on engine", "definition_id", def.ID, "folder", def.FolderName, "external_id", externalID)
	return externalID, nil
}

// installPayload builds the create body from a catalog workflow document.
// Only fields the engine accepts on create are sent.
func installPayload(def *registry.Definition, doc map[string]any) map[string]any {
	payload := map[string]any{
		"name":        def.Name,
		"nodes":       orDefault(doc["nodes"], []any{}),
		"connections": orDefault(doc["connections"], map[string]any{}),
		"settings":    orDefault(doc["settings"], map[string]any{}),
	}
	if sd, ok := doc["staticData"]; ok && sd != nil {
		payload["staticData"] = sd
	}
	return payload
}

func orDefault(v, def any) any {
	if v == nil {
		return def
	}
	return v
}

func (o *Orchestrator) checkCredentials(ctx context.Context, userID string, services []string) error {
	if len(services) == 0 {
		return nil
	}
	present, err := o.creds.ValidateRequired(ctx, userID, services)
	if err != nil {
		return fmt.Errorf("checking credentials: %w", err)
	}
	if missing := vault.Missing(services, present); len(missing) > 0 {
		return &MissingCredentialsError{Services: missing}
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, t events.Type, rec *Record) {
	data := events.ExecutionData{
		ExecutionID:       rec.ID,
		Kind:              string(rec.Kind),
		DefinitionID:      rec.DefinitionID,
		InstanceID:        rec.InstanceID,
		Status:            string(rec.Status),
		EngineExecutionID: rec.EngineExecutionID,
		ErrorMessage:      rec.ErrorMessage,
		DurationMS:        rec.Duration().Milliseconds(),
	}
	event, err := events.New(t, rec.UserID, data)
	if err != nil {
		o.logger.Warn("failed to build event", "type", t, "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("failed to publish event", "type", t, "execution_id", rec.ID, "error", err)
	}
}

func newRecord(userID string, def *registry.Definition, instanceID string, inputs map[string]any) *Record {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Record{
		Kind:         def.Kind,
		DefinitionID: def.ID,
		InstanceID:   instanceID,
		UserID:       userID,
		Inputs:       inputs,
		Status:       StatusRunning,
	}
}

// engineError maps transport failures to ErrEngineUnavailable.
func engineError(err error) error {
	if errors.Is(err, n8n.ErrUnreachable) || errors.Is(err, n8n.ErrNotConfigured) {
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return err
}
