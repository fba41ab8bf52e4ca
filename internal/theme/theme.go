// Package theme provides the Lip Gloss color palette and reusable styles
// for the examdesk TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection colors.
var (
	ColorConnected    = lipgloss.Color("#22c55e")
	ColorConnecting   = lipgloss.Color("#2563eb")
	ColorReconnecting = lipgloss.Color("#d97706")
	ColorOffline      = lipgloss.Color("#6b7280")
	ColorNoToken      = lipgloss.Color("#f59e0b")
)

// Event colors.
var (
	ColorUploaded     = lipgloss.Color("#3b82f6")
	ColorGraded       = lipgloss.Color("#16a34a")
	ColorViolation    = lipgloss.Color("#dc2626")
	ColorNotification = lipgloss.Color("#a855f7")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorFocus   = lipgloss.Color("#06b6d4")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// StatusColor returns the color for a hub connection status string.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "connected":
		return ColorConnected
	case "connecting":
		return ColorConnecting
	case "reconnecting":
		return ColorReconnecting
	case "unauthenticated":
		return ColorNoToken
	case "error":
		return ColorDanger
	default:
		return ColorOffline
	}
}

// StatusGlyph returns a glyph for a hub connection status string.
func StatusGlyph(status string) string {
	switch status {
	case "connected":
		return "●"
	case "connecting", "reconnecting":
		return "◌"
	case "error":
		return "✗"
	case "unauthenticated":
		return "!"
	default:
		return "○"
	}
}

// EventColor returns the color for a push name.
func EventColor(event string) lipgloss.Color {
	switch event {
	case "SubmissionUploaded":
		return ColorUploaded
	case "SubmissionGraded":
		return ColorGraded
	case "ViolationDetected":
		return ColorViolation
	case "Notification":
		return ColorNotification
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleFocused = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorFocus)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)

// Pane returns the border style for a pane, highlighted when focused.
func Pane(focused bool) lipgloss.Style {
	if focused {
		return StyleFocused
	}
	return StyleBorder
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
