package tui

import (
	catppuccin "github.com/catppuccin/go"
	"github.com/charmbracelet/lipgloss"

	"runbell/internal/runstate"
)

// flavorFor maps the configured theme name to a catppuccin flavor.
// Unknown names fall back to mocha.
func flavorFor(theme string) catppuccin.Flavor {
	switch theme {
	case "latte":
		return catppuccin.Latte
	case "frappe":
		return catppuccin.Frappe
	case "macchiato":
		return catppuccin.Macchiato
	default:
		return catppuccin.Mocha
	}
}

// Styles holds the rendered lipgloss styles for one theme.
type Styles struct {
	Title  lipgloss.Style
	Status lipgloss.Style
	Error  lipgloss.Style
	Notice lipgloss.Style
	Help   lipgloss.Style

	ActiveTab   lipgloss.Style
	InactiveTab lipgloss.Style

	Selected lipgloss.Style
	Normal   lipgloss.Style
	Muted    lipgloss.Style

	Running    lipgloss.Style
	Paused     lipgloss.Style
	Stopped    lipgloss.Style
	Errored    lipgloss.Style
	Monitoring lipgloss.Style
	Standby    lipgloss.Style
}

// NewStyles builds the style set for a theme name.
func NewStyles(theme string) Styles {
	f := flavorFor(theme)
	color := func(c catppuccin.Color) lipgloss.Color { return lipgloss.Color(c.Hex) }

	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(color(f.Mauve())),
		Status: lipgloss.NewStyle().Foreground(color(f.Overlay1())),
		Error:  lipgloss.NewStyle().Bold(true).Foreground(color(f.Red())).Padding(1),
		Notice: lipgloss.NewStyle().Foreground(color(f.Peach())),
		Help:   lipgloss.NewStyle().Foreground(color(f.Overlay1())),

		ActiveTab:   lipgloss.NewStyle().Bold(true).Background(color(f.Mauve())).Foreground(color(f.Base())).Padding(0, 2),
		InactiveTab: lipgloss.NewStyle().Foreground(color(f.Overlay1())).Padding(0, 2),

		Selected: lipgloss.NewStyle().Background(color(f.Surface1())).Foreground(color(f.Text())).Bold(true),
		Normal:   lipgloss.NewStyle().Foreground(color(f.Text())),
		Muted:    lipgloss.NewStyle().Foreground(color(f.Overlay1())),

		Running:    lipgloss.NewStyle().Bold(true).Foreground(color(f.Green())),
		Paused:     lipgloss.NewStyle().Foreground(color(f.Yellow())),
		Stopped:    lipgloss.NewStyle().Foreground(color(f.Blue())),
		Errored:    lipgloss.NewStyle().Bold(true).Foreground(color(f.Red())),
		Monitoring: lipgloss.NewStyle().Foreground(color(f.Teal())),
		Standby:    lipgloss.NewStyle().Foreground(color(f.Overlay0())),
	}
}

// ForStatus returns the style that colors a tab status.
func (s Styles) ForStatus(st runstate.Status) lipgloss.Style {
	switch st {
	case runstate.StatusRunning:
		return s.Running
	case runstate.StatusPaused:
		return s.Paused
	case runstate.StatusStopped:
		return s.Stopped
	case runstate.StatusError:
		return s.Errored
	case runstate.StatusMonitoring:
		return s.Monitoring
	case runstate.StatusStandby:
		return s.Standby
	default:
		return s.Normal
	}
}
