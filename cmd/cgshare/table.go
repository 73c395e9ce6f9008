package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"

	"github.com/sonnes/cgshare/share"
)

const defaultWidth = 100

var (
	colorActive   = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34d399"}
	colorStarting = lipgloss.AdaptiveColor{Light: "#d97706", Dark: "#fbbf24"}
	colorError    = lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#f87171"}
	colorDim      = lipgloss.AdaptiveColor{Light: "#94a3b8", Dark: "#64748b"}
	colorBright   = lipgloss.AdaptiveColor{Light: "#0f172a", Dark: "#f1f5f9"}
)

var (
	styleHeader = lipgloss.NewStyle().Foreground(colorDim).Bold(true)
	styleTitle  = lipgloss.NewStyle().Foreground(colorBright).Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
	styleURL    = lipgloss.NewStyle().Foreground(colorBright).Underline(true)

	statusStyles = map[share.Status]lipgloss.Style{
		share.StatusActive:   lipgloss.NewStyle().Foreground(colorActive),
		share.StatusStarting: lipgloss.NewStyle().Foreground(colorStarting),
		share.StatusError:    lipgloss.NewStyle().Foreground(colorError),
		share.StatusStopped:  lipgloss.NewStyle().Foreground(colorDim),
	}
)

// terminalWidth returns the width of stdout, or defaultWidth when stdout is
// not a terminal.
func terminalWidth() int {
	fd := os.Stdout.Fd()
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

type column struct {
	title string
	width int
	// flex columns share whatever width is left over.
	flex bool
}

// renderShares lays shares out as a table no wider than width.
func renderShares(shares []share.Info, width int, now time.Time) string {
	if len(shares) == 0 {
		return styleDim.Render("no shares") + "\n"
	}

	cols := []column{
		{title: "ID", width: 8},
		{title: "STATUS", width: 10},
		{title: "PROVIDER", width: 10},
		{title: "SESSION", flex: true},
		{title: "URL", flex: true},
		{title: "STARTED", width: 8},
	}
	layoutColumns(cols, width)

	var b strings.Builder
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = pad(c.title, c.width)
	}
	b.WriteString(styleHeader.Render(strings.Join(header, "  ")))
	b.WriteByte('\n')

	for _, s := range shares {
		cells := []string{
			shortID(s.ID),
			statusStyles[s.Status].Render(pad("● "+s.Status.String(), cols[1].width)),
			pad(s.ProviderName, cols[2].width),
			pad(s.SessionName, cols[3].width),
			urlCell(s, cols[4].width),
			styleDim.Render(pad(age(s.StartedAt, now), cols[5].width)),
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// layoutColumns splits the width left after fixed columns and gaps evenly
// between flex columns.
func layoutColumns(cols []column, width int) {
	used, flex := 0, 0
	for _, c := range cols {
		used += c.width
		if c.flex {
			flex++
		}
	}
	used += 2 * (len(cols) - 1)
	if flex == 0 {
		return
	}
	each := max((width-used)/flex, 12)
	for i := range cols {
		if cols[i].flex {
			cols[i].width = each
		}
	}
}

func urlCell(s share.Info, width int) string {
	if s.PublicURL == "" || s.Status != share.StatusActive {
		return styleDim.Render(pad("-", width))
	}
	return styleURL.Render(pad(s.PublicURL, width))
}

// pad truncates s to width cells and right-pads it with spaces.
func pad(s string, width int) string {
	s = ansi.Truncate(s, width, "…")
	if n := ansi.StringWidth(s); n < width {
		s += strings.Repeat(" ", width-n)
	}
	return s
}

func shortID(id share.ID) string {
	return id.String()[:8]
}

// age formats how long ago t was, relative to now.
func age(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// renderStarted is printed after a successful share start.
func renderStarted(s share.Info) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("Sharing "+s.SessionName) + "\n\n")
	fmt.Fprintf(&b, "  %s\n\n", styleURL.Render(s.PublicURL))
	fmt.Fprintf(&b, "  %s %s\n", styleDim.Render("provider"), s.ProviderName)
	fmt.Fprintf(&b, "  %s %s\n", styleDim.Render("id      "), s.ID)
	fmt.Fprintf(&b, "  %s cgshare share stop %s\n", styleDim.Render("stop    "), shortID(s.ID))
	return b.String()
}
