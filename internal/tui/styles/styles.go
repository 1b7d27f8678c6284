package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple (violet-400)
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red (red-400)
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray (gray-500)
	BlueColor      = lipgloss.Color("#60A5FA") // Blue

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	// Task status colors
	StatusEnqueued   = lipgloss.Color("#9CA3AF") // Gray
	StatusProcessing = lipgloss.Color("#60A5FA") // Blue
	StatusSucceeded  = lipgloss.Color("#10B981") // Green
	StatusFailed     = lipgloss.Color("#F87171") // Red
	StatusCanceled   = lipgloss.Color("#FBBF24") // Yellow

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Index tabs
	TabActive = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			Background(PrimaryColor).
			Padding(0, 2)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	// Settings pane
	ContentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	EditorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(0, 1)

	// Help bar
	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	// Header
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1).
		PaddingBottom(1)

	// Footer / status bar
	StatusBar = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(SurfaceColor).
			Padding(0, 1)

	// Error message
	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	// Success message
	SuccessMsg = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	// Warning message
	WarningMsg = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	// Table header for CLI listings
	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	// Distribution bars
	Bar = lipgloss.NewStyle().
		Foreground(SecondaryColor)

	BarTrack = lipgloss.NewStyle().
			Foreground(BorderColor)
)

// Layout constants for the settings view. The body gets whatever height is
// left after the fixed chrome.
const (
	// Header style: text + PaddingBottom + BorderBottom + MarginBottom
	HeaderLines = 4
	// Index tabs plus a blank line
	TabLines = 2
	// State line plus the status message line
	StatusLines = 2
	// HelpBar style: MarginTop + text
	HelpBarLines = 2
	// Top and bottom border of ContentBox / EditorBox
	BoxBorderLines = 2

	ChromeLines = HeaderLines + TabLines + StatusLines + HelpBarLines + BoxBorderLines
)

// StatusColor returns the color for a task status
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "enqueued":
		return StatusEnqueued
	case "processing":
		return StatusProcessing
	case "succeeded":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "canceled":
		return StatusCanceled
	default:
		return MutedColor
	}
}

// StatusIcon returns an icon for a task status
func StatusIcon(status string) string {
	switch status {
	case "enqueued":
		return "○"
	case "processing":
		return "●"
	case "succeeded":
		return "✓"
	case "failed":
		return "✗"
	case "canceled":
		return "⊘"
	default:
		return "●"
	}
}

// RenderStatus renders a task status with its icon and color.
func RenderStatus(status string) string {
	return lipgloss.NewStyle().Foreground(StatusColor(status)).Render(StatusIcon(status) + " " + status)
}
