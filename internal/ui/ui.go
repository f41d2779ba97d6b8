// Package ui provides terminal rendering helpers shared by the CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// colorEnabled reports whether the terminal supports color output.
// NO_COLOR and dumb terminals disable styling entirely.
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return termenv.DefaultOutput().Profile != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// RenderPass renders s in the success color.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders s in the failure color.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderMuted renders s dimmed, for secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderBold renders s bold.
func RenderBold(s string) string { return render(boldStyle, s) }
