package gatekeeper

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/reglet-dev/minihost/capability"
)

// TerminalPrompter provides interactive terminal prompting for scope grants.
type TerminalPrompter struct {
	in  *os.File
	out io.Writer
}

// NewTerminalPrompter creates a prompter on stdin and stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	fileInfo, err := p.in.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// PromptForCapability asks the user to grant a scope or domain.
func (p *TerminalPrompter) PromptForCapability(req capability.Request) (granted bool, always bool, err error) {
	if req.IsBroad {
		fmt.Fprintf(p.out, "\n")
		fmt.Fprintf(p.out, "\033[1;33mSecurity Warning: Sensitive Permission Requested\033[0m\n\n")
		fmt.Fprintf(p.out, "  %s\n", req.Description)
		fmt.Fprintf(p.out, "  Recommendation: Review if this access is necessary.\n")
		fmt.Fprintf(p.out, "\n")
	}

	const (
		OptionYes    = "Yes, allow for this session"
		OptionAlways = "Always allow (save to config)"
		OptionNo     = "No, deny"
	)

	var selection string

	err = huh.NewSelect[string]().
		Title("Mini-program Requesting Permission").
		Description(req.Description).
		Options(
			huh.NewOption(OptionYes, OptionYes),
			huh.NewOption(OptionAlways, OptionAlways),
			huh.NewOption(OptionNo, OptionNo),
		).
		Value(&selection).
		Run()
	if err != nil {
		return false, false, err
	}

	switch selection {
	case OptionYes:
		return true, false, nil
	case OptionAlways:
		return true, true, nil
	default:
		return false, false, nil
	}
}

// DescribeGrantSet returns human-readable descriptions of a GrantSet.
func DescribeGrantSet(gs *capability.GrantSet) []string {
	if gs == nil {
		return nil
	}
	var descriptions []string
	for _, s := range gs.Scopes {
		descriptions = append(descriptions, fmt.Sprintf("%s: %s", s, s.Description()))
	}
	for _, d := range gs.Domains {
		descriptions = append(descriptions, fmt.Sprintf("Network: %s", d))
	}
	return descriptions
}

// FormatNonInteractiveError creates a helpful error message for non-interactive mode.
func (p *TerminalPrompter) FormatNonInteractiveError(missing *capability.GrantSet) error {
	var msg strings.Builder
	msg.WriteString("The mini-program requires additional permissions (running in non-interactive mode)\n\n")
	msg.WriteString("Required permissions:\n")
	for _, desc := range DescribeGrantSet(missing) {
		msg.WriteString("  - " + desc + "\n")
	}

	msg.WriteString("\nTo grant these permissions:\n")
	msg.WriteString("  1. Run interactively and approve when prompted\n")
	msg.WriteString("  2. Use --trust flag (grants all permissions)\n")
	msg.WriteString("  3. Manually edit: ~/.minihost/grants.yaml\n")

	return fmt.Errorf("%s", msg.String())
}
