package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/vault"
)

// memStore is an in-memory CredentialStore.
type memStore struct {
	creds  map[string]map[string]string
	meta   map[string]vault.Credential
	failOn string
}

func newMemStore() *memStore {
	return &memStore{creds: map[string]map[string]string{}, meta: map[string]vault.Credential{}}
}

func (s *memStore) Store(_ context.Context, userID, service string, kind vault.Kind, plaintext map[string]string) (*vault.Credential, error) {
	if s.failOn == "store" {
		return nil, errors.New("disk full")
	}
	key := userID + "/" + service
	s.creds[key] = plaintext
	c := vault.Credential{UserID: userID, ServiceName: service, Kind: kind, Status: vault.StatusNotConfigured, IsActive: true, CreatedAt: time.Now()}
	s.meta[key] = c
	return &c, nil
}

func (s *memStore) Fetch(_ context.Context, userID, service string) (map[string]string, error) {
	key := userID + "/" + service
	if c, ok := s.meta[key]; !ok || !c.IsActive {
		return nil, vault.ErrCredentialNotFound
	}
	return s.creds[key], nil
}

func (s *memStore) Remove(_ context.Context, userID, service string) error {
	key := userID + "/" + service
	c, ok := s.meta[key]
	if !ok || !c.IsActive {
		return vault.ErrCredentialNotFound
	}
	c.IsActive = false
	c.Status = vault.StatusNotConfigured
	s.meta[key] = c
	return nil
}

func (s *memStore) List(_ context.Context, userID string) ([]vault.Credential, error) {
	var out []vault.Credential
	for _, c := range s.meta {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) SetStatus(_ context.Context, userID, service string, status vault.Status) error {
	key := userID + "/" + service
	c, ok := s.meta[key]
	if !ok {
		return vault.ErrCredentialNotFound
	}
	c.Status = status
	s.meta[key] = c
	return nil
}

type stubProber struct {
	ok  bool
	err error
}

func (p stubProber) Test(context.Context, string, map[string]string) (bool, error) { return p.ok, p.err }

func TestManager_Configure(t *testing.T) {
	ctx := context.Background()

	t.Run("connected", func(t *testing.T) {
		store := newMemStore()
		m := NewManager(store, stubProber{ok: true})

		status, err := m.Configure(ctx, "u1", "Telegram", map[string]string{"bot_token": "t"})
		require.NoError(t, err)
		assert.Equal(t, vault.StatusConnected, status)
		assert.Equal(t, vault.StatusConnected, store.meta["u1/telegram"].Status)
	})

	t.Run("failed probe still stores", func(t *testing.T) {
		store := newMemStore()
		m := NewManager(store, stubProber{ok: false, err: ErrProbeFailed})

		status, err := m.Configure(ctx, "u1", "telegram", map[string]string{"bot_token": "t"})
		require.NoError(t, err)
		assert.Equal(t, vault.StatusError, status)
		assert.Contains(t, store.creds, "u1/telegram")
	})

	t.Run("unsupported service", func(t *testing.T) {
		m := NewManager(newMemStore(), stubProber{ok: true})
		_, err := m.Configure(ctx, "u1", "myspace", map[string]string{})
		require.ErrorIs(t, err, ErrUnsupportedService)
	})

	t.Run("missing fields", func(t *testing.T) {
		m := NewManager(newMemStore(), stubProber{ok: true})
		_, err := m.Configure(ctx, "u1", "gmail", map[string]string{"client_id": "x"})
		require.ErrorIs(t, err, ErrMissingFields)

		var mfe *MissingFieldsError
		require.ErrorAs(t, err, &mfe)
		assert.Equal(t, []string{"client_secret", "refresh_token"}, mfe.Fields)
	})

	t.Run("store failure", func(t *testing.T) {
		store := newMemStore()
		store.failOn = "store"
		m := NewManager(store, stubProber{ok: true})
		_, err := m.Configure(ctx, "u1", "telegram", map[string]string{"bot_token": "t"})
		require.Error(t, err)
	})
}

func TestManager_RetestAndRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, stubProber{ok: true})

	_, err := m.Retest(ctx, "u1", "telegram")
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = m.Configure(ctx, "u1", "telegram", map[string]string{"bot_token": "t"})
	require.NoError(t, err)

	m.prober = stubProber{ok: false}
	status, err := m.Retest(ctx, "u1", "telegram")
	require.NoError(t, err)
	assert.Equal(t, vault.StatusError, status)

	require.NoError(t, m.Remove(ctx, "u1", "telegram"))
	require.ErrorIs(t, m.Remove(ctx, "u1", "telegram"), ErrNotConfigured)
}

func TestManager_Overview(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, stubProber{ok: true})

	_, err := m.Configure(ctx, "u1", "slack", map[string]string{"webhook_url": "https://hooks.slack.com/x"})
	require.NoError(t, err)

	items, err := m.Overview(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, items, len(All()))

	for _, item := range items {
		if item.Service == "slack" {
			assert.True(t, item.IsConfigured)
			assert.Equal(t, vault.StatusConnected, item.Status)
			assert.NotNil(t, item.ConfiguredAt)
			continue
		}
		assert.False(t, item.IsConfigured, item.Service)
		assert.Equal(t, vault.StatusNotConfigured, item.Status)
	}
}
