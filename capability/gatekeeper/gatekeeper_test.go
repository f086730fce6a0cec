package gatekeeper_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/capability/gatekeeper"
	"github.com/reglet-dev/minihost/capability/grantstore"
	"github.com/reglet-dev/minihost/hosterr"
)

type mockPrompter struct {
	mock.Mock
	interactive bool
}

func (m *mockPrompter) IsInteractive() bool { return m.interactive }

func (m *mockPrompter) PromptForCapability(req capability.Request) (bool, bool, error) {
	args := m.Called(req.Description)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *mockPrompter) FormatNonInteractiveError(missing *capability.GrantSet) error {
	return errors.New("non-interactive")
}

func newGatekeeper(p *mockPrompter, store capability.GrantStore, level gatekeeper.SecurityLevel) *gatekeeper.Gatekeeper {
	return gatekeeper.NewGatekeeper(
		gatekeeper.WithPrompter(p),
		gatekeeper.WithStore(store),
		gatekeeper.WithSecurityLevel(level),
		gatekeeper.WithLogger(slog.New(slog.DiscardHandler)),
	)
}

const userInfoDesc = "scope.userInfo: read the user's profile"

func TestAuthorize_PromptsOnce(t *testing.T) {
	p := &mockPrompter{interactive: true}
	p.On("PromptForCapability", userInfoDesc).Return(true, false, nil).Once()
	store := grantstore.NewMemoryStore(nil)
	g := newGatekeeper(p, store, gatekeeper.SecurityStandard)

	require.NoError(t, g.Authorize(context.Background(), capability.ScopeUserInfo))
	require.NoError(t, g.Authorize(context.Background(), capability.ScopeUserInfo))

	p.AssertExpectations(t)
	assert.True(t, g.Setting().Granted(capability.ScopeUserInfo))
	assert.Zero(t, store.Saves(), "session grants are not persisted")
}

func TestAuthorize_AlwaysPersists(t *testing.T) {
	p := &mockPrompter{interactive: true}
	p.On("PromptForCapability", userInfoDesc).Return(true, true, nil)
	store := grantstore.NewMemoryStore(nil)
	g := newGatekeeper(p, store, gatekeeper.SecurityStandard)

	require.NoError(t, g.Authorize(context.Background(), capability.ScopeUserInfo))
	assert.Equal(t, 1, store.Saves())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.True(t, saved.Granted(capability.ScopeUserInfo))
}

func TestAuthorize_DenialIsSticky(t *testing.T) {
	p := &mockPrompter{interactive: true}
	p.On("PromptForCapability", userInfoDesc).Return(false, false, nil).Once()
	g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStandard)

	err := g.Authorize(context.Background(), capability.ScopeUserInfo)
	assert.ErrorIs(t, err, hosterr.ErrPermissionDenied)
	assert.Equal(t, hosterr.ClassHost, hosterr.ClassOf(err))

	err = g.Authorize(context.Background(), capability.ScopeUserInfo)
	assert.ErrorIs(t, err, hosterr.ErrPermissionDenied)
	p.AssertExpectations(t)
	assert.True(t, g.Setting().IsDenied(capability.ScopeUserInfo))
}

func TestAuthorize_StoredGrantSkipsPrompt(t *testing.T) {
	p := &mockPrompter{interactive: true}
	store := grantstore.NewMemoryStore(&capability.GrantSet{Scopes: []capability.Scope{capability.ScopeRecord}})
	g := newGatekeeper(p, store, gatekeeper.SecurityStrict)

	assert.NoError(t, g.Authorize(context.Background(), capability.ScopeRecord))
	p.AssertNotCalled(t, "PromptForCapability", mock.Anything)
}

func TestAuthorize_SecurityLevels(t *testing.T) {
	t.Run("strict denies sensitive scopes", func(t *testing.T) {
		p := &mockPrompter{interactive: true}
		g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStrict)
		err := g.Authorize(context.Background(), capability.ScopeUserLocation)
		assert.ErrorIs(t, err, hosterr.ErrPermissionDenied)
		p.AssertNotCalled(t, "PromptForCapability", mock.Anything)
	})

	t.Run("permissive grants without prompting", func(t *testing.T) {
		p := &mockPrompter{interactive: false}
		g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityPermissive)
		assert.NoError(t, g.Authorize(context.Background(), capability.ScopeUserLocation))
		assert.NoError(t, g.Authorize(context.Background(), capability.ScopeUserInfo))
	})

	t.Run("standard fails when nobody can answer", func(t *testing.T) {
		p := &mockPrompter{interactive: false}
		g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStandard)
		err := g.Authorize(context.Background(), capability.ScopeUserInfo)
		assert.ErrorIs(t, err, hosterr.ErrPermissionDenied)
		assert.False(t, g.Setting().IsDenied(capability.ScopeUserInfo))
	})

	t.Run("trust all", func(t *testing.T) {
		p := &mockPrompter{}
		g := gatekeeper.NewGatekeeper(gatekeeper.WithPrompter(p), gatekeeper.WithStore(grantstore.NewMemoryStore(nil)), gatekeeper.WithTrustAll(true))
		assert.NoError(t, g.Authorize(context.Background(), capability.ScopeRecord))
	})
}

func TestAuthorize_CanceledContext(t *testing.T) {
	p := &mockPrompter{interactive: true}
	g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStandard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Authorize(ctx, capability.ScopeUserInfo), hosterr.ErrAborted)
}

func TestGrantRequired(t *testing.T) {
	required := &capability.GrantSet{
		Scopes:  []capability.Scope{capability.ScopeUserInfo},
		Domains: []string{"api.example.com"},
	}

	t.Run("prompts for what is missing", func(t *testing.T) {
		p := &mockPrompter{interactive: true}
		p.On("PromptForCapability", userInfoDesc).Return(true, false, nil)
		p.On("PromptForCapability", "network access to api.example.com").Return(true, true, nil)
		store := grantstore.NewMemoryStore(nil)
		g := newGatekeeper(p, store, gatekeeper.SecurityStandard)

		got, err := g.GrantRequired(context.Background(), required)
		require.NoError(t, err)
		assert.True(t, got.Granted(capability.ScopeUserInfo))
		assert.Equal(t, []string{"api.example.com"}, got.Domains)
		assert.Equal(t, 1, store.Saves())

		again, err := g.GrantRequired(context.Background(), required)
		require.NoError(t, err)
		assert.Equal(t, got, again)
		p.AssertNumberOfCalls(t, "PromptForCapability", 2)
	})

	t.Run("refusal aborts", func(t *testing.T) {
		p := &mockPrompter{interactive: true}
		p.On("PromptForCapability", userInfoDesc).Return(false, false, nil)
		g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStandard)

		_, err := g.GrantRequired(context.Background(), required)
		assert.ErrorIs(t, err, hosterr.ErrPermissionDenied)
	})

	t.Run("strict rejects any domain", func(t *testing.T) {
		p := &mockPrompter{interactive: true}
		g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStrict)
		_, err := g.GrantRequired(context.Background(), &capability.GrantSet{Domains: []string{"*"}})
		assert.ErrorIs(t, err, hosterr.ErrPermissionDenied)
	})

	t.Run("non-interactive", func(t *testing.T) {
		p := &mockPrompter{interactive: false}
		g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStandard)
		_, err := g.GrantRequired(context.Background(), required)
		assert.ErrorIs(t, err, hosterr.ErrPermissionDenied)
		assert.Contains(t, err.Error(), "non-interactive")
	})

	t.Run("nothing required", func(t *testing.T) {
		g := newGatekeeper(&mockPrompter{}, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStandard)
		got, err := g.GrantRequired(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
	})
}

func TestOpenSetting_FlipsDecisions(t *testing.T) {
	p := &mockPrompter{interactive: true}
	p.On("PromptForCapability", userInfoDesc).Return(false, false, nil).Once()
	g := newGatekeeper(p, grantstore.NewMemoryStore(nil), gatekeeper.SecurityStandard)
	require.Error(t, g.Authorize(context.Background(), capability.ScopeUserInfo))

	p.On("PromptForCapability", userInfoDesc).Return(true, false, nil).Once()
	got, err := g.OpenSetting(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Granted(capability.ScopeUserInfo))
	assert.NoError(t, g.Authorize(context.Background(), capability.ScopeUserInfo))
}

func TestParseSecurityLevel(t *testing.T) {
	assert.Equal(t, gatekeeper.SecurityStrict, gatekeeper.ParseSecurityLevel("strict"))
	assert.Equal(t, gatekeeper.SecurityPermissive, gatekeeper.ParseSecurityLevel("permissive"))
	assert.Equal(t, gatekeeper.SecurityStandard, gatekeeper.ParseSecurityLevel("bogus"))
}
