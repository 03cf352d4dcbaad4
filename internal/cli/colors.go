package cli

import "github.com/charmbracelet/lipgloss"

// Shared palette for the CLI and the TUI, deep blue to bright cyan.
var (
	PumpCyan  = lipgloss.Color("#00E5FF") // Bright cyan
	PumpTeal  = lipgloss.Color("#1DE9B6") // Teal
	PumpBlue  = lipgloss.Color("#2979FF") // Signal blue
	PumpNavy  = lipgloss.Color("#1A237E") // Deep navy
	PumpAmber = lipgloss.Color("#FFB300") // Warnings and clipping

	// Accent colours
	SlateGray = lipgloss.Color("#78909C") // Subtle text
)
