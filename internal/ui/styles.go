// Package ui renders daemon responses and error guidance for the dictd CLI.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

const (
	primaryColor = "#7C3AED" // Purple
	successColor = "#10B981" // Green
	warningColor = "#F59E0B" // Amber
	errorColor   = "#EF4444" // Red
	dimColor     = "#6B7280" // Gray
)

// styles are bound to one output's renderer so pipes and files get plain text.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	hint    lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Foreground(lipgloss.Color(primaryColor)).Bold(true),
		label:   r.NewStyle().Bold(true),
		dim:     r.NewStyle().Foreground(lipgloss.Color(dimColor)),
		success: r.NewStyle().Foreground(lipgloss.Color(successColor)),
		warning: r.NewStyle().Foreground(lipgloss.Color(warningColor)),
		err:     r.NewStyle().Foreground(lipgloss.Color(errorColor)).Bold(true),
		hint:    r.NewStyle().Foreground(lipgloss.Color(dimColor)).Italic(true),
	}
}
