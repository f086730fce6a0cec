// Package ui implements the host's interface affordances: toasts, loading
// indicators, modal dialogs, action sheets and the on-screen keyboard. The
// host owns their state; a Presenter renders them.
package ui

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/events"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
)

// Keyboard events.
const (
	EventKeyboardInput    = "keyboardInput"
	EventKeyboardConfirm  = "keyboardConfirm"
	EventKeyboardComplete = "keyboardComplete"
)

// Limits of the dialogs.
const (
	DefaultToastDuration = 1500 * time.Millisecond
	MaxActionSheetItems  = 6
	MaxButtonText        = 4
)

// ConfirmTypes lists the keyboard confirm button kinds.
var ConfirmTypes = []string{"done", "next", "search", "go", "send"}

// ErrCancelled is returned by a Presenter when the user dismissed a dialog.
var ErrCancelled = errors.New("cancel")

// Toast is a transient message.
type Toast struct {
	Title    string
	Icon     string
	Image    string
	Duration time.Duration
	Mask     bool
}

// Modal is a confirmation dialog.
type Modal struct {
	Title       string
	Content     string
	CancelText  string
	ConfirmText string
	ShowCancel  bool
}

// ModalResult reports which modal button was chosen.
type ModalResult struct {
	Confirm bool
	Cancel  bool
}

// ActionSheet is a list of choices.
type ActionSheet struct {
	Items     []string
	ItemColor string
}

// Keyboard describes an on-screen keyboard request.
type Keyboard struct {
	DefaultValue string
	ConfirmType  string
	MaxLength    int
	Multiple     bool
	ConfirmHold  bool
}

// Presenter renders dialogs. ShowModal, ShowActionSheet and ReadKeyboard
// may block on the user; the controller calls them off the loop.
type Presenter interface {
	ShowToast(t Toast)
	HideToast()
	ShowLoading(title string, mask bool)
	HideLoading()
	ShowModal(ctx context.Context, m Modal) (ModalResult, error)
	// ShowActionSheet returns the chosen index or ErrCancelled.
	ShowActionSheet(ctx context.Context, a ActionSheet) (int, error)
	// ReadKeyboard returns the entered text. When entered is false the
	// presenter has no input device and the keyboard stays open for
	// programmatic input.
	ReadKeyboard(ctx context.Context, k Keyboard) (value string, entered bool, err error)
}

// Controller owns dialog and keyboard state and emits keyboard events.
type Controller struct {
	presenter Presenter
	sched     loop.Scheduler
	ledger    *events.Ledger
	logger    *slog.Logger
	toastOff  loop.Cancel
	keyboard  Keyboard
	value     string
	gen       uint64
	shown     bool
	toast     bool
	loading   bool
	mu        sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithPresenter sets the presenter. The default is Headless.
func WithPresenter(p Presenter) Option {
	return func(c *Controller) {
		if p != nil {
			c.presenter = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a controller delivering on sched.
func New(sched loop.Scheduler, opts ...Option) *Controller {
	c := &Controller{sched: sched, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.presenter == nil {
		c.presenter = NewHeadless(c.logger)
	}
	c.ledger = events.NewLedger(sched, events.WithLogger(c.logger))
	return c
}

// Ledger returns the ledger keyboard events are emitted into.
func (c *Controller) Ledger() *events.Ledger { return c.ledger }

// ShowToast shows t and hides it after its duration. A toast replaces the
// loading indicator and any earlier toast.
func (c *Controller) ShowToast(t Toast) error {
	if t.Title == "" {
		return hosterr.Contract("title", "must not be empty")
	}
	if t.Icon == "" {
		t.Icon = "success"
	}
	if t.Duration <= 0 {
		t.Duration = DefaultToastDuration
	}
	c.mu.Lock()
	if c.toastOff != nil {
		c.toastOff()
	}
	c.toast, c.loading = true, false
	c.toastOff = c.sched.AfterFunc(t.Duration, func() {
		if err := c.HideToast(); err != nil {
			c.logger.Debug("toast already hidden", "error", err)
		}
	})
	c.mu.Unlock()
	c.presenter.ShowToast(t)
	return nil
}

// HideToast hides the toast.
func (c *Controller) HideToast() error {
	c.mu.Lock()
	shown := c.toast
	c.toast = false
	if c.toastOff != nil {
		c.toastOff()
		c.toastOff = nil
	}
	c.mu.Unlock()
	if !shown {
		return hosterr.State("no toast is shown")
	}
	c.presenter.HideToast()
	return nil
}

// ShowLoading shows the loading indicator until HideLoading.
func (c *Controller) ShowLoading(title string, mask bool) error {
	if title == "" {
		return hosterr.Contract("title", "must not be empty")
	}
	c.mu.Lock()
	if c.toastOff != nil {
		c.toastOff()
		c.toastOff = nil
	}
	c.toast, c.loading = false, true
	c.mu.Unlock()
	c.presenter.ShowLoading(title, mask)
	return nil
}

// HideLoading hides the loading indicator.
func (c *Controller) HideLoading() error {
	c.mu.Lock()
	shown := c.loading
	c.loading = false
	c.mu.Unlock()
	if !shown {
		return hosterr.State("no loading indicator is shown")
	}
	c.presenter.HideLoading()
	return nil
}

// Visible reports whether a toast or the loading indicator is shown.
func (c *Controller) Visible() (toast, loading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toast, c.loading
}

// Validate rejects a modal without text or with overlong button labels.
func (m Modal) Validate() error {
	if m.Title == "" && m.Content == "" {
		return hosterr.Contract("content", "title or content is required")
	}
	if len([]rune(m.ConfirmText)) > MaxButtonText {
		return hosterr.Contract("confirmText", "at most %d characters", MaxButtonText)
	}
	if len([]rune(m.CancelText)) > MaxButtonText {
		return hosterr.Contract("cancelText", "at most %d characters", MaxButtonText)
	}
	return nil
}

// Validate rejects an empty or overlong item list.
func (a ActionSheet) Validate() error {
	if len(a.Items) == 0 || len(a.Items) > MaxActionSheetItems {
		return hosterr.Contract("itemList", "must hold 1 to %d items, got %d", MaxActionSheetItems, len(a.Items))
	}
	return nil
}

// ShowModal asks the presenter and blocks until the user answers.
func (c *Controller) ShowModal(ctx context.Context, m Modal) (ModalResult, error) {
	if err := m.Validate(); err != nil {
		return ModalResult{}, err
	}
	if m.ConfirmText == "" {
		m.ConfirmText = "OK"
	}
	if m.CancelText == "" {
		m.CancelText = "Cancel"
	}
	res, err := c.presenter.ShowModal(ctx, m)
	if err != nil {
		return ModalResult{}, hosterr.Wrap(hosterr.CodeInternal, err, "showModal: %v", err)
	}
	return res, nil
}

// ShowActionSheet asks the presenter and blocks until the user picks an
// item. Dismissal is reported as a cancel failure.
func (c *Controller) ShowActionSheet(ctx context.Context, a ActionSheet) (int, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	idx, err := c.presenter.ShowActionSheet(ctx, a)
	switch {
	case errors.Is(err, ErrCancelled):
		return 0, hosterr.Host(hosterr.CodeAborted, "showActionSheet:fail cancel")
	case err != nil:
		return 0, hosterr.Wrap(hosterr.CodeInternal, err, "showActionSheet: %v", err)
	case idx < 0 || idx >= len(a.Items):
		return 0, hosterr.Host(hosterr.CodeInternal, "presenter chose item %d of %d", idx, len(a.Items))
	}
	return idx, nil
}

// ShowKeyboard opens the keyboard and reads from the presenter off the
// loop. Entered text is delivered as input, then confirm, then complete
// unless ConfirmHold keeps the keyboard open.
func (c *Controller) ShowKeyboard(ctx context.Context, k Keyboard) error {
	if k.ConfirmType == "" {
		k.ConfirmType = "done"
	}
	if !slices.Contains(ConfirmTypes, k.ConfirmType) {
		return hosterr.Contract("confirmType", "unknown confirm type %q", k.ConfirmType)
	}
	if k.MaxLength > 0 && len([]rune(k.DefaultValue)) > k.MaxLength {
		return hosterr.Contract("defaultValue", "longer than maxLength %d", k.MaxLength)
	}
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.shown = true
	c.keyboard = k
	c.value = k.DefaultValue
	c.mu.Unlock()

	go func() {
		value, entered, err := c.presenter.ReadKeyboard(ctx, k)
		if err != nil {
			c.logger.Debug("keyboard read failed", "error", err)
		}
		if !entered || err != nil {
			return
		}
		c.sched.Post(func() {
			c.mu.Lock()
			current := c.shown && c.gen == gen
			c.mu.Unlock()
			if !current {
				return
			}
			if err := c.Input(value); err != nil {
				return
			}
			_ = c.Confirm()
		})
	}()
	return nil
}

// Input replaces the keyboard text, as typing does.
func (c *Controller) Input(value string) error {
	c.mu.Lock()
	if !c.shown {
		c.mu.Unlock()
		return hosterr.State("keyboard is not shown")
	}
	if max := c.keyboard.MaxLength; max > 0 && len([]rune(value)) > max {
		value = string([]rune(value)[:max])
	}
	c.value = value
	c.mu.Unlock()
	c.ledger.Emit(EventKeyboardInput, dynamic.Object("value", value))
	return nil
}

// Confirm presses the confirm button. The keyboard closes unless it was
// opened with ConfirmHold.
func (c *Controller) Confirm() error {
	c.mu.Lock()
	if !c.shown {
		c.mu.Unlock()
		return hosterr.State("keyboard is not shown")
	}
	value, hold := c.value, c.keyboard.ConfirmHold
	c.mu.Unlock()
	c.ledger.Emit(EventKeyboardConfirm, dynamic.Object("value", value))
	if hold {
		return nil
	}
	return c.HideKeyboard()
}

// UpdateKeyboard replaces the text of the open keyboard without emitting
// input.
func (c *Controller) UpdateKeyboard(value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shown {
		return hosterr.State("keyboard is not shown")
	}
	c.value = value
	return nil
}

// HideKeyboard closes the keyboard and emits complete. Hiding a closed
// keyboard changes nothing.
func (c *Controller) HideKeyboard() error {
	c.mu.Lock()
	if !c.shown {
		c.mu.Unlock()
		return nil
	}
	c.shown = false
	c.gen++
	value := c.value
	c.mu.Unlock()
	c.ledger.Emit(EventKeyboardComplete, dynamic.Object("value", value))
	return nil
}

// KeyboardShown reports whether the keyboard is open and its text.
func (c *Controller) KeyboardShown() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.shown
}

// Close hides every affordance and clears the keyboard listeners.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.toastOff != nil {
		c.toastOff()
		c.toastOff = nil
	}
	c.toast, c.loading, c.shown = false, false, false
	c.gen++
	c.mu.Unlock()
	c.ledger.Clear()
}
