// Package render defines the interface for rendering standardized transcripts
// into the formats a share serves.
package render

import (
	"io"

	"github.com/sonnes/cgshare/core"
)

// Renderer writes a transcript to the given writer in a specific format.
type Renderer interface {
	Render(w io.Writer, t *core.Transcript) error
}
