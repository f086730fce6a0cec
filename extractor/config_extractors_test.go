package extractor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/extractor"
)

func TestPermissionExtractor_Extract(t *testing.T) {
	tests := []struct {
		name     string
		section  any
		expected *capability.GrantSet
	}{
		{
			name: "known scopes are sorted",
			section: map[string]any{
				"scope.userLocation": map[string]any{"desc": "nearby stores"},
				"scope.record":       map[string]any{"desc": "voice notes"},
			},
			expected: &capability.GrantSet{Scopes: []capability.Scope{capability.ScopeRecord, capability.ScopeUserLocation}},
		},
		{
			name:     "unknown scopes are ignored",
			section:  map[string]any{"scope.telepathy": map[string]any{}},
			expected: nil,
		},
		{
			name:     "wrong shape",
			section:  []any{"scope.record"},
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, (&extractor.PermissionExtractor{}).Extract(tt.section))
		})
	}
}

func TestDomainExtractor_Extract(t *testing.T) {
	tests := []struct {
		name     string
		section  any
		expected *capability.GrantSet
	}{
		{
			name:     "URL list",
			section:  []any{"https://api.example.com/v1", "wss://ws.example.com:8443"},
			expected: &capability.GrantSet{Domains: []string{"api.example.com", "ws.example.com"}},
		},
		{
			name:     "bare hosts are kept",
			section:  []any{"CDN.example.com"},
			expected: &capability.GrantSet{Domains: []string{"cdn.example.com"}},
		},
		{
			name: "per-kind object is flattened and deduplicated",
			section: map[string]any{
				"socket":  []any{"wss://api.example.com"},
				"request": []any{"https://api.example.com", "https://img.example.com"},
			},
			expected: &capability.GrantSet{Domains: []string{"api.example.com", "img.example.com"}},
		},
		{
			name:     "single string",
			section:  "https://example.com",
			expected: &capability.GrantSet{Domains: []string{"example.com"}},
		},
		{
			name:     "empty",
			section:  []any{},
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, (&extractor.DomainExtractor{}).Extract(tt.section))
		})
	}
}

func TestScopeListExtractor_Extract(t *testing.T) {
	got := (&extractor.ScopeListExtractor{}).Extract([]any{"scope.werun", "nope", 3})
	assert.Equal(t, &capability.GrantSet{Scopes: []capability.Scope{capability.ScopeWeRun}}, got)
	assert.Nil(t, (&extractor.ScopeListExtractor{}).Extract(nil))
}

func TestRegisterDefaultExtractors(t *testing.T) {
	reg := capability.NewRegistry()
	extractor.RegisterDefaultExtractors(reg)

	for _, section := range []string{"permission", "requiredScopes", "domains"} {
		_, ok := reg.Get(section)
		assert.True(t, ok, section)
	}
}
