package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"
)

// Headless logs toasts and answers dialogs without a user: modals are
// confirmed, action sheets cancelled and the keyboard left open.
type Headless struct {
	logger *slog.Logger
}

// NewHeadless creates a headless presenter.
func NewHeadless(logger *slog.Logger) *Headless {
	if logger == nil {
		logger = slog.Default()
	}
	return &Headless{logger: logger}
}

func (p *Headless) ShowToast(t Toast) {
	p.logger.Info("toast", "title", t.Title, "icon", t.Icon, "duration", t.Duration)
}

func (p *Headless) HideToast() { p.logger.Debug("toast hidden") }

func (p *Headless) ShowLoading(title string, _ bool) {
	p.logger.Info("loading", "title", title)
}

func (p *Headless) HideLoading() { p.logger.Debug("loading hidden") }

func (p *Headless) ShowModal(_ context.Context, m Modal) (ModalResult, error) {
	p.logger.Info("modal confirmed without a user", "title", m.Title, "content", m.Content)
	return ModalResult{Confirm: true}, nil
}

func (p *Headless) ShowActionSheet(_ context.Context, a ActionSheet) (int, error) {
	p.logger.Info("action sheet cancelled without a user", "items", len(a.Items))
	return 0, ErrCancelled
}

func (p *Headless) ReadKeyboard(context.Context, Keyboard) (string, bool, error) {
	return "", false, nil
}

// Terminal renders dialogs as terminal forms on stdin and stderr.
type Terminal struct {
	in  *os.File
	out io.Writer
}

// NewTerminal creates a terminal presenter.
func NewTerminal() *Terminal {
	return &Terminal{in: os.Stdin, out: os.Stderr}
}

// IsInteractive reports whether stdin is a terminal.
func (p *Terminal) IsInteractive() bool {
	info, err := p.in.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func (p *Terminal) ShowToast(t Toast) {
	fmt.Fprintf(p.out, "\033[1m[%s]\033[0m %s\n", t.Icon, t.Title)
}

func (p *Terminal) HideToast() {}

func (p *Terminal) ShowLoading(title string, _ bool) {
	fmt.Fprintf(p.out, "\033[2m... %s\033[0m\n", title)
}

func (p *Terminal) HideLoading() {}

func (p *Terminal) ShowModal(ctx context.Context, m Modal) (ModalResult, error) {
	confirm := true
	field := huh.NewConfirm().
		Title(m.Title).
		Description(m.Content).
		Affirmative(m.ConfirmText).
		Value(&confirm)
	if m.ShowCancel {
		field = field.Negative(m.CancelText)
	} else {
		field = field.Negative("")
	}
	if err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx); err != nil {
		return ModalResult{}, err
	}
	return ModalResult{Confirm: confirm, Cancel: !confirm}, nil
}

func (p *Terminal) ShowActionSheet(ctx context.Context, a ActionSheet) (int, error) {
	options := make([]huh.Option[int], 0, len(a.Items)+1)
	for i, item := range a.Items {
		options = append(options, huh.NewOption(item, i))
	}
	options = append(options, huh.NewOption("Cancel", -1))

	choice := -1
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().Options(options...).Value(&choice),
	)).RunWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if choice < 0 {
		return 0, ErrCancelled
	}
	return choice, nil
}

func (p *Terminal) ReadKeyboard(ctx context.Context, k Keyboard) (string, bool, error) {
	value := k.DefaultValue
	var field huh.Field
	if k.Multiple {
		t := huh.NewText().Value(&value)
		if k.MaxLength > 0 {
			t = t.CharLimit(k.MaxLength)
		}
		field = t
	} else {
		in := huh.NewInput().Value(&value)
		if k.MaxLength > 0 {
			in = in.CharLimit(k.MaxLength)
		}
		field = in
	}
	if err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx); err != nil {
		return "", false, err
	}
	return value, true, nil
}

var (
	_ Presenter = (*Headless)(nil)
	_ Presenter = (*Terminal)(nil)
)
