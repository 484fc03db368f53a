package dashboard

import (
	"github.com/charmbracelet/lipgloss"
)

// Layout constants
const (
	SidebarWidth   = 22
	PanelWidth     = 30
	HeaderHeight   = 3
	FooterHeight   = 1
	MinChatWidth   = 20
	MinChatHeight  = 3
	PreviewPadding = 2
)

// Palette of a theme.
type Palette struct {
	Background lipgloss.Color
	Surface    lipgloss.Color
	Text       lipgloss.Color
	DimText    lipgloss.Color
	Border     lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Warning    lipgloss.Color
	Success    lipgloss.Color
}

var (
	darkPalette = Palette{
		Background: lipgloss.Color("#111827"),
		Surface:    lipgloss.Color("#1F2937"),
		Text:       lipgloss.Color("#F3F4F6"),
		DimText:    lipgloss.Color("#9CA3AF"),
		Border:     lipgloss.Color("#374151"),
		Primary:    lipgloss.Color("#EC4899"), // Pink
		Accent:     lipgloss.Color("#A855F7"), // Purple
		Warning:    lipgloss.Color("#F87171"),
		Success:    lipgloss.Color("#34D399"),
	}
	lightPalette = Palette{
		Background: lipgloss.Color("#F9FAFB"),
		Surface:    lipgloss.Color("#FFFFFF"),
		Text:       lipgloss.Color("#111827"),
		DimText:    lipgloss.Color("#6B7280"),
		Border:     lipgloss.Color("#E5E7EB"),
		Primary:    lipgloss.Color("#DB2777"),
		Accent:     lipgloss.Color("#9333EA"),
		Warning:    lipgloss.Color("#DC2626"),
		Success:    lipgloss.Color("#059669"),
	}
)

// Styles of the dashboard for a theme.
type Styles struct {
	Palette Palette

	Title    lipgloss.Style
	Header   lipgloss.Style
	Sidebar  lipgloss.Style
	NavItem  lipgloss.Style
	NavFocus lipgloss.Style
	Panel    lipgloss.Style
	Chat     lipgloss.Style
	Footer   lipgloss.Style

	Chip       lipgloss.Style
	ActiveChip lipgloss.Style

	DateLabel     lipgloss.Style
	UserLabel     lipgloss.Style
	EmilyLabel    lipgloss.Style
	UserMessage   lipgloss.Style
	EmilyMessage  lipgloss.Style
	Dim           lipgloss.Style
	ReminderCount lipgloss.Style
	Overdue       lipgloss.Style
	Spinner       lipgloss.Style
	Centered      lipgloss.Style
}

// NewStyles returns the styles of the dark or light theme.
func NewStyles(dark bool) Styles {
	p := lightPalette
	if dark {
		p = darkPalette
	}

	messageStyle := lipgloss.NewStyle().
		Foreground(p.Text).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder())

	chip := lipgloss.NewStyle().
		Foreground(p.DimText).
		Padding(0, 1).
		MarginRight(1)

	return Styles{
		Palette: p,

		Title: lipgloss.NewStyle().
			Foreground(p.Primary).
			Bold(true),

		Header: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(p.Border).
			Padding(0, 1),

		Sidebar: lipgloss.NewStyle().
			Width(SidebarWidth).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(p.Border).
			Padding(1, 1),

		NavItem: lipgloss.NewStyle().
			Foreground(p.DimText).
			PaddingLeft(1),

		NavFocus: lipgloss.NewStyle().
			Foreground(p.Primary).
			Bold(true).
			PaddingLeft(1),

		Panel: lipgloss.NewStyle().
			Width(PanelWidth).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(p.Border).
			Padding(1, 1),

		Chat: lipgloss.NewStyle().Margin(0).Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(p.DimText).
			Italic(true),

		Chip: chip,
		ActiveChip: chip.
			Foreground(p.Surface).
			Background(p.Primary).
			Bold(true),

		DateLabel: lipgloss.NewStyle().
			Foreground(p.Accent).
			Bold(true),

		UserLabel: lipgloss.NewStyle().
			Foreground(p.Success).
			Bold(true),

		EmilyLabel: lipgloss.NewStyle().
			Foreground(p.Primary).
			Bold(true),

		UserMessage: lipgloss.NewStyle().
			Inherit(messageStyle).
			BorderForeground(p.Accent).
			MarginLeft(6),

		EmilyMessage: lipgloss.NewStyle().
			Inherit(messageStyle).
			BorderForeground(p.Primary).
			MarginRight(6),

		Dim: lipgloss.NewStyle().
			Foreground(p.DimText),

		ReminderCount: lipgloss.NewStyle().
			Foreground(p.Text).
			Bold(true),

		Overdue: lipgloss.NewStyle().
			Foreground(p.Warning).
			Italic(true),

		Spinner: lipgloss.NewStyle().
			Foreground(p.Primary),

		Centered: lipgloss.NewStyle().
			Align(lipgloss.Center),
	}
}
