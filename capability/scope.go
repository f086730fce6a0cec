package capability

import (
	"slices"

	"github.com/reglet-dev/minihost/hosterr"
)

// Scope names a user-authorized capability group.
type Scope string

const (
	ScopeUserInfo         Scope = "scope.userInfo"
	ScopeUserLocation     Scope = "scope.userLocation"
	ScopeWeRun            Scope = "scope.werun"
	ScopeWritePhotosAlbum Scope = "scope.writePhotosAlbum"
	ScopeRecord           Scope = "scope.record"
)

// KnownScopes lists every scope the host understands, in display order.
var KnownScopes = []Scope{
	ScopeUserInfo,
	ScopeUserLocation,
	ScopeWeRun,
	ScopeWritePhotosAlbum,
	ScopeRecord,
}

var scopeDescriptions = map[Scope]string{
	ScopeUserInfo:         "read the user's profile",
	ScopeUserLocation:     "read the user's location",
	ScopeWeRun:            "read the user's step count",
	ScopeWritePhotosAlbum: "save images to the photo album",
	ScopeRecord:           "record audio",
}

// ParseScope validates a guest supplied scope name.
func ParseScope(name string) (Scope, error) {
	s := Scope(name)
	if !slices.Contains(KnownScopes, s) {
		return "", hosterr.Contract("scope", "unknown scope %q", name)
	}
	return s, nil
}

// Description is the human readable purpose shown in prompts.
func (s Scope) Description() string {
	if d, ok := scopeDescriptions[s]; ok {
		return d
	}
	return string(s)
}

func (s Scope) String() string { return string(s) }
