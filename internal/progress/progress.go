// Package progress narrates the milestones of a deployment to the operator.
package progress

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Narrator prints progress lines. A nil Narrator prints nothing.
type Narrator struct {
	out     io.Writer
	plain   lipgloss.Style
	step    lipgloss.Style
	done    lipgloss.Style
	warning lipgloss.Style
}

// NewNarrator returns a Narrator writing to out. Styling is dropped when out
// is not a terminal.
func NewNarrator(out io.Writer) *Narrator {
	r := lipgloss.NewRenderer(out)
	return &Narrator{
		out:     out,
		plain:   r.NewStyle(),
		step:    r.NewStyle().Bold(true),
		done:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

// Step announces a milestone.
func (n *Narrator) Step(format string, args ...any) {
	if n != nil {
		n.print(n.step, format, args...)
	}
}

func (n *Narrator) Info(format string, args ...any) {
	if n != nil {
		n.print(n.plain, format, args...)
	}
}

func (n *Narrator) Done(format string, args ...any) {
	if n != nil {
		n.print(n.done, format, args...)
	}
}

func (n *Narrator) Warn(format string, args ...any) {
	if n != nil {
		n.print(n.warning, format, args...)
	}
}

func (n *Narrator) print(style lipgloss.Style, format string, args ...any) {
	fmt.Fprintln(n.out, style.Render(fmt.Sprintf(format, args...)))
}
