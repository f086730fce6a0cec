package minihost

import (
	"context"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
	"github.com/reglet-dev/minihost/ui"
)

func (h *Host) bindUI() error {
	c := h.ui
	empty := Value(dynamic.EmptyObject())

	caps := []struct {
		c  registry.Capability
		fn Handler
	}{
		{
			registry.Capability{
				Name:        "showToast",
				Kind:        registry.KindAsync,
				Description: "Show a transient message.",
				Params: schema.Object(
					schema.String("title").Req().NonEmpty(),
					schema.Enum("icon", "success", "loading", "none").WithDefault("success"),
					schema.String("image").As(schema.FormatPath),
					schema.Number("duration").AtLeast(0).WithDefault(1500).Doc("milliseconds"),
					schema.Boolean("mask"),
				),
			},
			func(_ context.Context, call *Call) (Result, error) {
				p := call.Params
				if err := c.ShowToast(ui.Toast{
					Title:    str(p, "title"),
					Icon:     str(p, "icon"),
					Image:    str(p, "image"),
					Duration: millis(p, "duration"),
					Mask:     boolean(p, "mask"),
				}); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "hideToast",
				Kind:        registry.KindAsync,
				Description: "Hide the toast.",
			},
			func(context.Context, *Call) (Result, error) {
				if err := c.HideToast(); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "showLoading",
				Kind:        registry.KindAsync,
				Description: "Show the loading indicator until hideLoading.",
				Params: schema.Object(
					schema.String("title").Req().NonEmpty(),
					schema.Boolean("mask"),
				),
			},
			func(_ context.Context, call *Call) (Result, error) {
				if err := c.ShowLoading(str(call.Params, "title"), boolean(call.Params, "mask")); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "hideLoading",
				Kind:        registry.KindAsync,
				Description: "Hide the loading indicator.",
			},
			func(context.Context, *Call) (Result, error) {
				if err := c.HideLoading(); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "showModal",
				Kind:        registry.KindAsync,
				Description: "Ask the user to confirm.",
				Params: schema.Object(
					schema.String("title"),
					schema.String("content"),
					schema.Boolean("showCancel").WithDefault(true),
					schema.String("cancelText"),
					schema.String("cancelColor"),
					schema.String("confirmText"),
					schema.String("confirmColor"),
				),
				Response: schema.Object(schema.Boolean("confirm"), schema.Boolean("cancel")),
			},
			func(ctx context.Context, call *Call) (Result, error) {
				p := call.Params
				m := ui.Modal{
					Title:       str(p, "title"),
					Content:     str(p, "content"),
					ShowCancel:  boolean(p, "showCancel"),
					CancelText:  str(p, "cancelText"),
					ConfirmText: str(p, "confirmText"),
				}
				if err := m.Validate(); err != nil {
					return Result{}, err
				}
				return h.offLoop(ctx, func(ctx context.Context) (dynamic.Value, error) {
					res, err := c.ShowModal(ctx, m)
					if err != nil {
						return dynamic.Null(), err
					}
					return dynamic.Object("confirm", res.Confirm, "cancel", res.Cancel), nil
				}), nil
			},
		},
		{
			registry.Capability{
				Name:        "showActionSheet",
				Kind:        registry.KindAsync,
				Description: "Let the user pick one of up to six items.",
				Params: schema.Object(
					schema.Array("itemList", schema.String("item")).Req(),
					schema.String("itemColor"),
				),
				Response: schema.Object(schema.Number("tapIndex")),
			},
			func(ctx context.Context, call *Call) (Result, error) {
				items, _ := field(call.Params, "itemList").Items()
				sheet := ui.ActionSheet{
					Items: lo.Map(items, func(v dynamic.Value, _ int) string {
						s, _ := v.AsString()
						return s
					}),
					ItemColor: str(call.Params, "itemColor"),
				}
				if err := sheet.Validate(); err != nil {
					return Result{}, err
				}
				return h.offLoop(ctx, func(ctx context.Context) (dynamic.Value, error) {
					idx, err := c.ShowActionSheet(ctx, sheet)
					if err != nil {
						return dynamic.Null(), err
					}
					return dynamic.Object("tapIndex", idx), nil
				}), nil
			},
		},
		{
			registry.Capability{
				Name:        "showKeyboard",
				Kind:        registry.KindAsync,
				Description: "Open the on-screen keyboard.",
				Params: schema.Object(
					schema.String("defaultValue"),
					schema.Number("maxLength").AtLeast(0),
					schema.Boolean("multiple"),
					schema.Boolean("confirmHold"),
					schema.Enum("confirmType", ui.ConfirmTypes...).WithDefault("done"),
				),
			},
			func(_ context.Context, call *Call) (Result, error) {
				p := call.Params
				// The keyboard outlives the call that opened it.
				if err := c.ShowKeyboard(context.Background(), ui.Keyboard{
					DefaultValue: str(p, "defaultValue"),
					MaxLength:    int(number(p, "maxLength")),
					Multiple:     boolean(p, "multiple"),
					ConfirmHold:  boolean(p, "confirmHold"),
					ConfirmType:  str(p, "confirmType"),
				}); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "updateKeyboard",
				Kind:        registry.KindAsync,
				Description: "Replace the text of the open keyboard.",
				Params:      schema.Object(schema.String("value").Req()),
			},
			func(_ context.Context, call *Call) (Result, error) {
				if err := c.UpdateKeyboard(str(call.Params, "value")); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "hideKeyboard",
				Kind:        registry.KindAsync,
				Description: "Close the on-screen keyboard.",
			},
			func(context.Context, *Call) (Result, error) {
				if err := c.HideKeyboard(); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
	}
	for _, b := range caps {
		if err := h.Register(b.c, b.fn); err != nil {
			return err
		}
	}

	for _, event := range []string{ui.EventKeyboardInput, ui.EventKeyboardConfirm, ui.EventKeyboardComplete} {
		on, off := task.ListenerMethods(event)
		if err := h.event(on, off, event, c.Ledger(), "Listen for "+event+" of the on-screen keyboard."); err != nil {
			return err
		}
	}
	return nil
}
