package minihost

import (
	"context"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/profile"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
)

// offLoop runs fn on its own goroutine, for work that may block on a device
// or the user, and answers through the result's future.
func (h *Host) offLoop(ctx context.Context, fn func(context.Context) (dynamic.Value, error)) Result {
	done := callback.NewFuture(h.sched)
	go func() { done.Settle(callback.From(fn(ctx))) }()
	return Result{Future: done}
}

func (h *Host) bindProfile() error {
	p := h.profile

	if err := h.Register(registry.Capability{
		Name:        "getLocation",
		Kind:        registry.KindAsync,
		Scope:       string(capability.ScopeUserLocation),
		Description: "Read the current position.",
		Params: schema.Object(
			schema.Enum("type", profile.WGS84, profile.GCJ02).WithDefault(profile.WGS84),
			schema.Boolean("altitude"),
		),
		ResponseModel: profile.Location{},
	}, func(ctx context.Context, call *Call) (Result, error) {
		coordType, altitude := str(call.Params, "type"), boolean(call.Params, "altitude")
		return h.offLoop(ctx, func(ctx context.Context) (dynamic.Value, error) {
			loc, err := p.Location(ctx, coordType, altitude)
			if err != nil {
				return dynamic.Null(), err
			}
			return dynamic.FromGo(loc)
		}), nil
	}); err != nil {
		return err
	}

	if err := h.Register(registry.Capability{
		Name:        "getUserInfo",
		Kind:        registry.KindAsync,
		Scope:       string(capability.ScopeUserInfo),
		Description: "Read the user's public profile, optionally with signed and encrypted data.",
		Params: schema.Object(
			schema.Boolean("withCredentials"),
			schema.Enum("lang", "en", "zh_CN", "zh_TW").WithDefault("en"),
		),
	}, func(ctx context.Context, call *Call) (Result, error) {
		withCredentials := boolean(call.Params, "withCredentials")
		return h.offLoop(ctx, func(ctx context.Context) (dynamic.Value, error) {
			info, err := p.UserInfo(ctx)
			if err != nil {
				return dynamic.Null(), err
			}
			public, err := dynamic.FromGo(info)
			if err != nil {
				return dynamic.Null(), err
			}
			sealed, err := h.session.Seal(info, map[string]any{"openId": h.openID, "userInfo": info})
			if err != nil {
				return dynamic.Null(), err
			}
			res := dynamic.Object(
				"userInfo", public,
				"rawData", sealed.RawData,
				"signature", sealed.Signature,
			)
			if withCredentials {
				res = res.With("encryptedData", dynamic.String(sealed.EncryptedData)).
					With("iv", dynamic.String(sealed.IV))
			}
			return res, nil
		}), nil
	}); err != nil {
		return err
	}

	return h.Register(registry.Capability{
		Name:        "getWeRunData",
		Kind:        registry.KindAsync,
		Scope:       string(capability.ScopeWeRun),
		Description: "Read the step counts of the last 30 days, encrypted.",
		Response:    schema.Object(schema.String("encryptedData"), schema.String("iv")),
	}, func(ctx context.Context, _ *Call) (Result, error) {
		return h.offLoop(ctx, func(ctx context.Context) (dynamic.Value, error) {
			steps, err := p.Steps(ctx)
			if err != nil {
				return dynamic.Null(), err
			}
			list := lo.Map(steps, func(s profile.Step, _ int) any {
				return map[string]any{"timestamp": s.Timestamp, "step": s.Step}
			})
			sealed, err := h.session.Seal(nil, map[string]any{"stepInfoList": list})
			if err != nil {
				return dynamic.Null(), err
			}
			return dynamic.Object("encryptedData", sealed.EncryptedData, "iv", sealed.IV), nil
		}), nil
	})
}

// Session returns the session user data is sealed with, so a test or a
// backend stand-in can verify signatures and decrypt payloads.
func (h *Host) Session() *profile.Session { return h.session }
