// Package share defines the share record and the service that owns its
// lifecycle: parse a session, serve it locally, expose it through a tunnel,
// and keep the persisted status in step with what is actually running.
package share

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID identifies a share for its whole life, in memory and in storage.
type ID = uuid.UUID

// NewID returns a random ID.
func NewID() ID { return uuid.New() }

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid share id %q: %w", s, err)
	}
	return id, nil
}

// Status is the lifecycle state of a share.
//
//	starting -> active -> stopped
//	    |          |
//	    +-> error <+
//
// Stopped and error are terminal.
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
)

// ErrInvalidStatus is returned when decoding a string that is not one of the
// four statuses.
var ErrInvalidStatus = errors.New("invalid share status")

// ParseStatus decodes s exactly; no case folding or trimming.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusStarting, StatusActive, StatusError, StatusStopped:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool { return s == StatusStopped || s == StatusError }

// UnmarshalText rejects anything ParseStatus rejects.
func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Info is a share record.
type Info struct {
	ID           ID        `json:"id"`
	SessionPath  string    `json:"session_path"`
	SessionName  string    `json:"session_name"`
	PublicURL    string    `json:"public_url"`
	ProviderName string    `json:"provider_name"`
	LocalPort    int       `json:"local_port"`
	StartedAt    time.Time `json:"started_at"`
	Status       Status    `json:"status"`
}

// SessionName derives the display name of a session file: its base name
// without extension.
func SessionName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
