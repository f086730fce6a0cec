package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/policy"
)

func TestParseScope(t *testing.T) {
	s, err := capability.ParseScope("scope.userLocation")
	require.NoError(t, err)
	assert.Equal(t, capability.ScopeUserLocation, s)

	_, err = capability.ParseScope("scope.camera2")
	assert.ErrorIs(t, err, hosterr.ErrContract)
}

func TestGrantSet_GrantAndDenyAreExclusive(t *testing.T) {
	g := &capability.GrantSet{}
	g.Deny(capability.ScopeRecord)
	assert.True(t, g.IsDenied(capability.ScopeRecord))

	g.Grant(capability.ScopeRecord)
	g.Grant(capability.ScopeRecord)
	assert.True(t, g.Granted(capability.ScopeRecord))
	assert.False(t, g.IsDenied(capability.ScopeRecord))
	assert.Len(t, g.Scopes, 1)

	g.Deny(capability.ScopeRecord)
	assert.False(t, g.Granted(capability.ScopeRecord))
	assert.Empty(t, g.Scopes)
}

func TestGrantSet_Difference(t *testing.T) {
	required := &capability.GrantSet{
		Scopes:  []capability.Scope{capability.ScopeUserInfo, capability.ScopeWeRun},
		Domains: []string{"api.example.com", "cdn.example.com"},
	}
	have := &capability.GrantSet{
		Scopes:  []capability.Scope{capability.ScopeUserInfo},
		Denied:  []capability.Scope{capability.ScopeWeRun},
		Domains: []string{"cdn.example.com"},
	}

	missing := required.Difference(have)
	assert.Equal(t, []capability.Scope{capability.ScopeWeRun}, missing.Scopes)
	assert.Equal(t, []string{"api.example.com"}, missing.Domains)
	assert.Empty(t, missing.Denied)

	assert.True(t, required.Difference(required).IsEmpty())
	assert.Equal(t, required.Scopes, required.Difference(nil).Scopes)
}

func TestGrantSet_MergeLetsLaterDecisionsWin(t *testing.T) {
	g := &capability.GrantSet{Scopes: []capability.Scope{capability.ScopeRecord}, Domains: []string{"a.com"}}
	g.Merge(&capability.GrantSet{Denied: []capability.Scope{capability.ScopeRecord}, Domains: []string{"a.com", "b.com"}})

	assert.True(t, g.IsDenied(capability.ScopeRecord))
	assert.Equal(t, []string{"a.com", "b.com"}, g.Domains)
}

func TestGrantSet_CloneIsIndependent(t *testing.T) {
	g := &capability.GrantSet{Scopes: []capability.Scope{capability.ScopeUserInfo}}
	c := g.Clone()
	c.Grant(capability.ScopeRecord)
	assert.Len(t, g.Scopes, 1)

	var nilSet *capability.GrantSet
	assert.True(t, nilSet.IsEmpty())
	assert.NotNil(t, nilSet.Clone())
}

func TestGrantSet_Policy(t *testing.T) {
	g := &capability.GrantSet{Domains: []string{"api.example.com"}}
	p := policy.NewPolicy(policy.WithDenialHandler(&policy.NopDenialHandler{}))

	assert.True(t, p.EvaluateNetwork(policy.NetworkRequest{Kind: policy.KindRequest, Host: "api.example.com", Port: 443}, g.Policy()))
	assert.False(t, p.EvaluateNetwork(policy.NetworkRequest{Kind: policy.KindRequest, Host: "evil.com", Port: 443}, g.Policy()))
}

type sectionExtractor struct{ scope capability.Scope }

func (e sectionExtractor) Extract(section any) *capability.GrantSet {
	if on, _ := section.(bool); !on {
		return nil
	}
	return &capability.GrantSet{Scopes: []capability.Scope{e.scope}}
}

func TestRegistry_ExtractAll(t *testing.T) {
	reg := capability.NewRegistry()
	reg.Register("location", sectionExtractor{capability.ScopeUserLocation})
	reg.Register("record", sectionExtractor{capability.ScopeRecord})

	_, ok := reg.Get("location")
	assert.True(t, ok)
	_, ok = reg.Get("missing")
	assert.False(t, ok)

	got := reg.ExtractAll(map[string]any{"location": true, "record": false, "other": true})
	assert.Equal(t, []capability.Scope{capability.ScopeUserLocation}, got.Scopes)
}
