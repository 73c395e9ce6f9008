// Package html renders a transcript as a single standalone HTML page, the
// document a share's public URL serves.
package html

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/sonnes/cgshare/core"
)

//go:embed templates/*.html
var templates embed.FS

// Renderer renders transcripts to HTML. It is safe for concurrent use.
type Renderer struct {
	md   goldmark.Markdown
	tmpl *template.Template
}

// New creates a Renderer with GFM and chroma syntax highlighting. Raw HTML
// in markdown is escaped: share pages are served to the public internet.
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("dracula"),
				highlighting.WithFormatOptions(chromahtml.WithClasses(false)),
			),
		),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)

	tmpl := template.Must(template.New("page.html").
		Funcs(template.FuncMap{
			"duration": formatDuration,
			"tokens":   formatTokens,
			"rfc3339":  func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
		}).
		ParseFS(templates, "templates/*.html"))

	return &Renderer{md: md, tmpl: tmpl}
}

type pageData struct {
	Transcript *core.Transcript
	Messages   []messageData
	Duration   string
}

type messageData struct {
	ID        string
	Role      string
	RoleClass string
	Timestamp *time.Time
	Blocks    []template.HTML
}

// Render writes t as a complete HTML page to w.
func (r *Renderer) Render(w io.Writer, t *core.Transcript) error {
	results := make(map[string]core.ContentBlock)
	for _, msg := range t.Messages {
		for _, b := range msg.Content {
			if b.Type == core.BlockToolResult && b.ToolUseID != "" {
				results[b.ToolUseID] = b
			}
		}
	}
	paired := make(map[string]bool)

	var messages []messageData
	for i, msg := range t.Messages {
		md := messageData{
			ID:        fmt.Sprintf("msg-%d", i),
			Role:      roleLabel(msg.Role),
			RoleClass: string(msg.Role),
			Timestamp: msg.Timestamp,
		}
		for _, b := range msg.Content {
			var result *core.ContentBlock
			switch b.Type {
			case core.BlockToolUse:
				if res, ok := results[b.ToolUseID]; ok {
					result = &res
					paired[b.ToolUseID] = true
				}
			case core.BlockToolResult:
				if paired[b.ToolUseID] {
					continue
				}
			}
			h, err := r.renderBlock(b, result)
			if err != nil {
				return fmt.Errorf("render %s block in %s: %w", b.Type, md.ID, err)
			}
			md.Blocks = append(md.Blocks, h)
		}
		if len(md.Blocks) > 0 {
			messages = append(messages, md)
		}
	}

	data := pageData{Transcript: t, Messages: messages}
	if d := t.Duration(); d > 0 {
		data.Duration = formatDuration(d)
	}
	return r.tmpl.ExecuteTemplate(w, "page.html", data)
}

func roleLabel(role core.Role) string {
	switch role {
	case core.RoleUser:
		return "User"
	case core.RoleAssistant:
		return "Assistant"
	case core.RoleSystem:
		return "System"
	default:
		return string(role)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "<1s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// formatTokens renders a count as 950, 12.3k or 4.1M.
func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/1e6), ".0") + "M"
	case n >= 1_000:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/1e3), ".0") + "k"
	default:
		return fmt.Sprintf("%d", n)
	}
}
