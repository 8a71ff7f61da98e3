package overlay

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pagescope/internal/event"
)

var (
	colorForeground = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#f2f2f2"}
	colorMuted      = lipgloss.AdaptiveColor{Light: "#6a737d", Dark: "#8b949e"}
	colorAccent     = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	colorBorder     = lipgloss.AdaptiveColor{Light: "#dce0e5", Dark: "#2a3850"}

	colorError   = lipgloss.Color("#e53935")
	colorWarn    = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
	colorDebug   = lipgloss.Color("#9575CD")
	colorSuccess = lipgloss.Color("#8BC34A")
)

// Styles holds every style the panel renders with.
type Styles struct {
	Header      lipgloss.Style
	Tab         lipgloss.Style
	ActiveTab   lipgloss.Style
	Footer      lipgloss.Style
	Muted       lipgloss.Style
	Selected    lipgloss.Style
	Status      lipgloss.Style
	Section     lipgloss.Style
	Key         lipgloss.Style
	FilterOn    lipgloss.Style
	FilterOff   lipgloss.Style
	Pending     lipgloss.Style
	Success     lipgloss.Style
	Failure     lipgloss.Style
	Body        lipgloss.Style
	levelStyles map[event.Level]lipgloss.Style
}

// DefaultStyles builds the panel styles.
func DefaultStyles() Styles {
	s := Styles{
		Header: lipgloss.NewStyle().
			Foreground(colorForeground).
			Bold(true).
			Padding(0, 1),
		Tab: lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 2),
		ActiveTab: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Underline(true).
			Padding(0, 2),
		Footer: lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1),
		Muted: lipgloss.NewStyle().
			Foreground(colorMuted),
		Selected: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),
		Status: lipgloss.NewStyle().
			Foreground(colorInfo).
			Padding(0, 1),
		Section: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorBorder),
		Key: lipgloss.NewStyle().
			Foreground(colorForeground).
			Bold(true),
		FilterOn: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),
		FilterOff: lipgloss.NewStyle().
			Foreground(colorMuted).
			Strikethrough(true),
		Pending: lipgloss.NewStyle().Foreground(colorWarn),
		Success: lipgloss.NewStyle().Foreground(colorSuccess),
		Failure: lipgloss.NewStyle().Foreground(colorError),
		Body:    lipgloss.NewStyle().Padding(0, 1),
	}
	s.levelStyles = map[event.Level]lipgloss.Style{
		event.LevelLog:   lipgloss.NewStyle().Foreground(colorForeground),
		event.LevelInfo:  lipgloss.NewStyle().Foreground(colorInfo),
		event.LevelWarn:  lipgloss.NewStyle().Foreground(colorWarn),
		event.LevelError: lipgloss.NewStyle().Foreground(colorError),
		event.LevelDebug: lipgloss.NewStyle().Foreground(colorDebug),
	}
	return s
}

// Level returns the style for entries at lvl.
func (s Styles) Level(lvl event.Level) lipgloss.Style {
	if st, ok := s.levelStyles[lvl]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// RequestStatus picks the style for a request row.
func (s Styles) RequestStatus(st event.RequestStatus) lipgloss.Style {
	switch st {
	case event.StatusSuccess:
		return s.Success
	case event.StatusError:
		return s.Failure
	}
	return s.Pending
}

// LevelBadge is the fixed-width tag shown before each log line.
func LevelBadge(lvl event.Level) string {
	return "[" + strings.ToUpper(string(lvl)) + "]"
}

// DarkBackground guesses the terminal background from COLORFGBG, with
// PAGESCOPE_DARK_MODE=1 forcing dark.
func DarkBackground() bool {
	if os.Getenv("PAGESCOPE_DARK_MODE") == "1" {
		return true
	}
	parts := strings.Split(os.Getenv("COLORFGBG"), ";")
	if len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil {
			return (bg >= 0 && bg <= 6) || bg == 8
		}
	}
	return false
}
