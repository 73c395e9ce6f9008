// Package json renders transcripts as JSON (serializes the standardized format as-is).
package json

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sonnes/cgshare/core"
)

// Renderer renders a transcript to JSON.
type Renderer struct {
	// Indent controls pretty-printing. When true, output is indented.
	Indent bool
}

// Render writes t to w followed by a newline.
func (r *Renderer) Render(w io.Writer, t *core.Transcript) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if r.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return nil
}
