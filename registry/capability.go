package registry

import (
	"github.com/reglet-dev/minihost/schema"
)

// Kind is the calling convention of a capability.
type Kind string

const (
	// KindSync returns its result directly or raises an error.
	KindSync Kind = "sync"
	// KindAsync reports through success/fail/complete callbacks.
	KindAsync Kind = "async"
	// KindFactory constructs an object such as a task or context.
	KindFactory Kind = "factory"
	// KindConstant is a value read without a call.
	KindConstant Kind = "constant"
	// KindEvent registers or removes a listener in the event ledger.
	KindEvent Kind = "event"
)

// Capability is one named entry of the host surface.
type Capability struct {
	// ResponseModel is an optional Go value whose type documents the
	// response shape when Response declares no fields.
	ResponseModel any
	Name          string
	Kind          Kind
	Description   string
	// MinVersion is the lowest host version providing the capability,
	// as a semantic version. Empty means always available.
	MinVersion string
	// Scope is the permission scope required before the host acts.
	Scope string
	// SyncVariant names the synchronous twin of an async capability.
	SyncVariant string
	// Event is the ledger event name for KindEvent capabilities.
	Event string
	// Task names the handle type returned by factory capabilities.
	Task     string
	Params   schema.Schema
	Response schema.Schema
}

// Async reports whether the capability delivers results through callbacks.
func (c Capability) Async() bool {
	return c.Kind == KindAsync
}

// clone returns a copy of c whose schemas share no memory with c.
func (c Capability) clone() Capability {
	c.Params = c.Params.Clone()
	c.Response = c.Response.Clone()
	return c
}
