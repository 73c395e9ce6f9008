// Package reader defines how agent session logs are turned into transcripts
// the share daemon can serve.
package reader

import (
	"errors"

	"github.com/sonnes/cgshare/core"
)

// ErrNoMessages is returned when a session file holds no conversation.
var ErrNoMessages = errors.New("no messages found in session")

// Reader parses agent session data into transcripts.
type Reader interface {
	// ReadFile parses a single session file at the given path.
	ReadFile(path string) (*core.Transcript, error)

	// Locate resolves a session ID to the path of its session file.
	Locate(sessionID string) (string, error)
}
