package minihost

import (
	"context"
	"errors"
	"fmt"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/registry"
)

// Authorizer decides permission scopes.
type Authorizer interface {
	Authorize(ctx context.Context, scope capability.Scope) error
	Setting() *capability.GrantSet
	OpenSetting(ctx context.Context) (*capability.GrantSet, error)
}

// DenialHandler is called when a capability is denied.
// It allows custom logging or auditing.
type DenialHandler func(ctx context.Context, capabilityName string, scope capability.Scope, message string)

// CapabilityChecker checks capabilities that declare a permission scope
// against the authorizer before their handler runs.
type CapabilityChecker struct {
	auth          Authorizer
	denialHandler DenialHandler
}

// CapabilityCheckerOption configures a CapabilityChecker.
type CapabilityCheckerOption func(*CapabilityChecker)

// WithCapabilityDenialHandler sets the handler for denied capabilities.
func WithCapabilityDenialHandler(handler DenialHandler) CapabilityCheckerOption {
	return func(c *CapabilityChecker) {
		c.denialHandler = handler
	}
}

// NewCapabilityChecker creates a checker backed by auth.
func NewCapabilityChecker(auth Authorizer, opts ...CapabilityCheckerOption) *CapabilityChecker {
	c := &CapabilityChecker{auth: auth}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckScope authorizes scope on behalf of capabilityName. Denials are
// Host-class permission errors.
func (c *CapabilityChecker) CheckScope(ctx context.Context, capabilityName string, scope capability.Scope) error {
	err := c.auth.Authorize(ctx, scope)
	if err == nil {
		return nil
	}
	return c.handleDeny(ctx, capabilityName, scope, err)
}

func (c *CapabilityChecker) handleDeny(ctx context.Context, capabilityName string, scope capability.Scope, err error) error {
	fullMsg := fmt.Sprintf("%s: %s", scope, err.Error())
	if c.denialHandler != nil {
		c.denialHandler(ctx, capabilityName, scope, fullMsg)
	}
	if errors.Is(err, hosterr.ErrAborted) {
		return err
	}
	if he := hosterr.As(err); he.Class == hosterr.ClassHost && he.Code == hosterr.CodePermissionDenied {
		return he
	}
	return hosterr.Wrap(hosterr.CodePermissionDenied, err, "auth deny")
}

// Decided reports whether the user already granted or refused scope, so
// checking it cannot prompt.
func (c *CapabilityChecker) Decided(scope capability.Scope) bool {
	g := c.auth.Setting()
	return g.Granted(scope) || g.IsDenied(scope)
}

// CapabilityMiddleware returns a middleware that enforces the permission
// scope declared by each capability. An undecided scope of an async call
// is checked off the loop, since the authorizer may prompt; the handler
// then runs in a later turn on sched.
func CapabilityMiddleware(checker *CapabilityChecker, sched loop.Scheduler) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (Result, error) {
			if call.Capability.Scope == "" {
				return next(ctx, call)
			}
			scope := capability.Scope(call.Capability.Scope)
			if call.Sync || call.Capability.Kind != registry.KindAsync || call.Capability.Task != "" || checker.Decided(scope) {
				if err := checker.CheckScope(ctx, call.Capability.Name, scope); err != nil {
					return Result{}, err
				}
				return next(ctx, call)
			}

			done := callback.NewFuture(sched)
			go func() {
				if err := checker.CheckScope(ctx, call.Capability.Name, scope); err != nil {
					done.Reject(err)
					return
				}
				sched.Post(func() {
					res, err := next(ctx, call)
					switch {
					case err != nil:
						done.Reject(err)
					case res.Future != nil:
						res.Future.Then(func(o callback.Outcome) { done.Settle(o) })
					default:
						done.Resolve(res.Value)
					}
				})
			}()
			return Result{Future: done}, nil
		}
	}
}
