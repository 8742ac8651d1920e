// Package ui renders terminal output for the ledgit CLI.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#FFB74D"}).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"})
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Configure sets the colour profile from the output stream. Colours are
// dropped when out is not a terminal or NO_COLOR is set.
func Configure(out io.Writer) {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(f).EnvColorProfile())
}

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderPass renders a success marker or message
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders a warning marker or message
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders a failure marker or message
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders an identifier: a hash, branch or repository
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders secondary detail
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeader renders a section title
func RenderHeader(s string) string { return headerStyle.Render(s) }

// ShortHash abbreviates a commit hash for display.
func ShortHash(hash string) string {
	if len(hash) > 10 {
		return hash[:10]
	}
	return hash
}
