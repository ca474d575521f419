package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// Instances manages user subscriptions.
//
// Thread Safety:
//   - Add holds a mutex across its duplicate check and insert. The partial
//     unique indexes on automation_instances reject anything that slips past
//     (another process sharing the database file).
type Instances struct {
	repo   Repository
	mu     sync.Mutex
	logger Logger
}

// NewInstances creates the subscription service.
func NewInstances(repo Repository) *Instances {
	return &Instances{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (s *Instances) SetLogger(logger Logger) {
	s.logger = logger
}

// Add subscribes userID to a definition. An empty name defaults to the
// definition name.
//
// Returns:
//   - ErrInvalidKind for an unknown kind
//   - ErrDefinitionNotFound / ErrDefinitionInactive for a missing or hidden definition
//   - ErrAlreadySubscribed when an active instance already exists
func (s *Instances) Add(ctx context.Context, userID string, kind catalog.Kind, definitionID, name string) (*Instance, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}

	def, err := s.repo.GetDefinition(ctx, kind, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, ErrDefinitionInactive
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = def.Name
	}
	if len(name) > maxNameLength {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.repo.FindActiveInstance(ctx, userID, kind, definitionID)
	switch {
	case err == nil:
		return nil, ErrAlreadySubscribed
	case !errors.Is(err, ErrInstanceNotFound):
		return nil, fmt.Errorf("checking existing subscription: %w", err)
	}

	inst := &Instance{
		UserID:       userID,
		Kind:         kind,
		DefinitionID: definitionID,
		Name:         name,
		IsActive:     true,
		IsEnabled:    true,
	}
	if err := s.repo.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	s.logger.Info("instance added", "user_id", userID, "kind", kind, "definition_id", definitionID, "instance_id", inst.ID)
	return inst, nil
}

// Get returns an active instance owned by userID.
func (s *Instances) Get(ctx context.Context, userID, id string) (*Instance, error) {
	inst, err := s.repo.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.UserID != userID || !inst.IsActive {
		return nil, ErrInstanceNotFound
	}
	return inst, nil
}

// Detail returns an owned instance with its definition.
func (s *Instances) Detail(ctx context.Context, userID, id string) (*Subscription, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	def, err := s.repo.GetDefinition(ctx, inst.Kind, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	return &Subscription{Instance: *inst, Definition: def}, nil
}

// List returns the user's active instances.
func (s *Instances) List(ctx context.Context, userID string) ([]Instance, error) {
	return s.repo.ListInstances(ctx, userID)
}

// ListDetailed returns the user's active instances with their definitions.
// Instances whose definition can no longer be loaded are returned without one.
func (s *Instances) ListDetailed(ctx context.Context, userID string) ([]Subscription, error) {
	instances, err := s.repo.ListInstances(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Subscription, 0, len(instances))
	for _, inst := range instances {
		sub := Subscription{Instance: inst}
		def, err := s.repo.GetDefinition(ctx, inst.Kind, inst.DefinitionID)
		if err != nil {
			s.logger.Warn("instance definition unavailable", "instance_id", inst.ID, "error", err)
		} else {
			sub.Definition = def
		}
		out = append(out, sub)
	}
	return out, nil
}

// Rename changes the display name of an owned instance.
func (s *Instances) Rename(ctx context.Context, userID, id, name string) (*Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return nil, ErrInvalidName
	}
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	inst.Name = name
	if err := s.repo.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Remove unsubscribes: the instance is soft-deleted and its history kept.
func (s *Instances) Remove(ctx context.Context, userID, id string) error {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	inst.IsActive = false
	if err := s.repo.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	s.logger.Info("instance removed", "user_id", userID, "instance_id", id)
	return nil
}

// SetEnabled records the engine activation state of an owned instance.
// Callers toggling remote workflows must do so only after the engine
// accepted the change.
func (s *Instances) SetEnabled(ctx context.Context, userID, id string, enabled bool) (*Instance, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if inst.IsEnabled == enabled {
		return inst, nil
	}
	inst.IsEnabled = enabled
	if err := s.repo.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}
