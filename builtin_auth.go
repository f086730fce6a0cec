package minihost

import (
	"context"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
)

// authSetting reports every decided scope as granted (true) or refused (false).
func authSetting(g *capability.GrantSet) dynamic.Value {
	setting := dynamic.EmptyObject()
	if g == nil {
		return dynamic.Object("authSetting", setting)
	}
	for _, s := range g.Scopes {
		setting = setting.With(string(s), dynamic.Bool(true))
	}
	for _, s := range g.Denied {
		setting = setting.With(string(s), dynamic.Bool(false))
	}
	return dynamic.Object("authSetting", setting)
}

func (h *Host) bindAuth() error {
	scopes := lo.Map(capability.KnownScopes, func(s capability.Scope, _ int) string { return string(s) })

	if err := h.Register(registry.Capability{
		Name:        "authorize",
		Kind:        registry.KindAsync,
		Description: "Ask the user for a permission scope ahead of use.",
		Params:      schema.Object(schema.Enum("scope", scopes...).Req()),
	}, func(ctx context.Context, call *Call) (Result, error) {
		scope := capability.Scope(str(call.Params, "scope"))
		done := callback.NewFuture(h.sched)
		go func() {
			err := h.checker.CheckScope(ctx, call.Capability.Name, scope)
			done.Settle(callback.From(dynamic.EmptyObject(), err))
		}()
		return Result{Future: done}, nil
	}); err != nil {
		return err
	}

	if err := h.Register(registry.Capability{
		Name:        "getSetting",
		Kind:        registry.KindAsync,
		Description: "Report the scopes the user has decided on.",
	}, func(context.Context, *Call) (Result, error) {
		return Value(authSetting(h.auth.Setting())), nil
	}); err != nil {
		return err
	}

	return h.Register(registry.Capability{
		Name:        "openSetting",
		Kind:        registry.KindAsync,
		Description: "Let the user review and change scope decisions.",
	}, func(ctx context.Context, _ *Call) (Result, error) {
		done := callback.NewFuture(h.sched)
		go func() {
			g, err := h.auth.OpenSetting(ctx)
			if err != nil {
				done.Settle(callback.Failure(err))
				return
			}
			done.Settle(callback.Success(authSetting(g)))
		}()
		return Result{Future: done}, nil
	})
}
