package share

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sonnes/cgshare/core"
	"github.com/sonnes/cgshare/logger"
	"github.com/sonnes/cgshare/tunnel"
)

var (
	ErrParse               = errors.New("parse session")
	ErrUnknownProvider     = errors.New("unknown tunnel provider")
	ErrProviderUnavailable = errors.New("tunnel provider not available")
	ErrShareNotFound       = errors.New("share not found")
	ErrClosed              = errors.New("share service is shutting down")
)

const teardownTimeout = 10 * time.Second

// Parser reads a session file into a transcript.
type Parser interface {
	ReadFile(path string) (*core.Transcript, error)
}

// SessionServer serves a transcript on a local port.
type SessionServer interface {
	Serve(t *core.Transcript) (ServerHandle, error)
}

// SessionServerFunc adapts a function to SessionServer.
type SessionServerFunc func(t *core.Transcript) (ServerHandle, error)

func (f SessionServerFunc) Serve(t *core.Transcript) (ServerHandle, error) { return f(t) }

// ServerHandle is a running session server.
type ServerHandle interface {
	Port() int
	Stop(ctx context.Context) error
}

// Store is the persistence the service needs. Lookups of a missing share
// return an error wrapping ErrShareNotFound.
type Store interface {
	InsertShare(ctx context.Context, info Info) error
	GetShare(ctx context.Context, id ID) (Info, error)
	UpdateShareStatus(ctx context.Context, id ID, status Status) error
	UpdateShareActive(ctx context.Context, id ID, publicURL string, port int) error
	SetSharePort(ctx context.Context, id ID, port int) error
	ListShares(ctx context.Context) ([]Info, error)
	ListSharesByStatus(ctx context.Context, statuses ...Status) ([]Info, error)
	TransitionShares(ctx context.Context, to Status, from ...Status) (int64, error)
	DeleteTerminalSharesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	// Transformers run on every parsed transcript before it is served.
	Transformers []core.Transformer
	// DefaultProvider is used when StartShare is given no provider name.
	DefaultProvider string
	Now             func() time.Time
	NewID           func() ID
	Logger          *log.Logger
}

// running pairs the live handles of one share. It only exists in the
// process that started the share.
type running struct {
	server ServerHandle
	tunnel tunnel.Handle
}

// Service owns every share state transition. All methods are safe for
// concurrent use.
type Service struct {
	parser    Parser
	server    SessionServer
	store     Store
	providers *tunnel.Registry
	opts      Options
	log       *log.Logger

	mu      sync.RWMutex
	running map[ID]*running
	closed  bool
}

// NewService returns a Service.
func NewService(parser Parser, server SessionServer, store Store, providers *tunnel.Registry, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewID
	}
	l := opts.Logger
	if l == nil {
		l = logger.WithComponent("share")
	}
	return &Service{
		parser:    parser,
		server:    server,
		store:     store,
		providers: providers,
		opts:      opts,
		log:       l,
		running:   make(map[ID]*running),
	}
}

// StartShare parses the session at sessionPath, serves it locally and exposes
// it through the named provider. The row is persisted as starting before
// anything is spawned; any later failure leaves it in error.
func (s *Service) StartShare(ctx context.Context, sessionPath, providerName string) (Info, error) {
	if s.isClosed() {
		return Info{}, ErrClosed
	}
	if providerName == "" {
		providerName = s.opts.DefaultProvider
	}

	t, err := s.parser.ReadFile(sessionPath)
	if err != nil {
		return Info{}, fmt.Errorf("%w %s: %w", ErrParse, sessionPath, err)
	}
	if err := core.Chain(t, s.opts.Transformers...); err != nil {
		return Info{}, fmt.Errorf("transform %s: %w", sessionPath, err)
	}

	info := Info{
		ID:           s.opts.NewID(),
		SessionPath:  sessionPath,
		SessionName:  SessionName(sessionPath),
		ProviderName: providerName,
		StartedAt:    s.opts.Now().UTC().Truncate(time.Millisecond),
		Status:       StatusStarting,
	}
	if err := s.store.InsertShare(ctx, info); err != nil {
		return Info{}, err
	}
	log := s.log.With("share_id", info.ID, "provider", providerName)

	provider, ok := s.providers.Get(providerName)
	if !ok {
		return s.fail(ctx, info, fmt.Errorf("%w %q", ErrUnknownProvider, providerName))
	}
	if !provider.IsAvailable(ctx) {
		return s.fail(ctx, info, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider.DisplayName()))
	}

	srv, err := s.server.Serve(t)
	if err != nil {
		return s.fail(ctx, info, fmt.Errorf("start session server: %w", err))
	}
	info.LocalPort = srv.Port()
	if err := s.store.SetSharePort(ctx, info.ID, info.LocalPort); err != nil {
		s.stopServer(log, srv)
		return s.fail(ctx, info, err)
	}

	th, err := provider.Spawn(ctx, info.LocalPort)
	if err != nil {
		s.stopServer(log, srv)
		if errors.Is(err, tunnel.ErrNotAvailable) {
			err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return s.fail(ctx, info, fmt.Errorf("spawn tunnel: %w", err))
	}
	r := &running{server: srv, tunnel: th}

	if err := s.store.UpdateShareActive(ctx, info.ID, th.URL(), info.LocalPort); err != nil {
		s.teardown(log, r)
		return s.fail(ctx, info, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.teardown(log, r)
		s.persistStatus(ctx, info.ID, StatusStopped)
		return Info{}, ErrClosed
	}
	s.running[info.ID] = r
	s.mu.Unlock()

	info.PublicURL = th.URL()
	info.Status = StatusActive
	log.Info("share started", "url", info.PublicURL, "port", info.LocalPort, "session", info.SessionName)
	return info, nil
}

// fail marks the share as errored and returns err.
func (s *Service) fail(ctx context.Context, info Info, err error) (Info, error) {
	s.log.Warn("share failed", "share_id", info.ID, "error", err)
	s.persistStatus(ctx, info.ID, StatusError)
	return Info{}, err
}

// persistStatus records status even when the request context is done.
func (s *Service) persistStatus(ctx context.Context, id ID, status Status) {
	if err := s.store.UpdateShareStatus(context.WithoutCancel(ctx), id, status); err != nil {
		s.log.Error("persist share status", "share_id", id, "status", status, "error", err)
	}
}

// StopShare stops a share. It is idempotent: unknown and already stopped ids
// succeed.
func (s *Service) StopShare(ctx context.Context, id ID) error {
	s.mu.Lock()
	r, ok := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()

	log := s.log.With("share_id", id)
	if ok {
		s.teardown(log, r)
	}

	err := s.store.UpdateShareStatus(context.WithoutCancel(ctx), id, StatusStopped)
	if errors.Is(err, ErrShareNotFound) {
		log.Debug("stop of unknown share")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("share stopped", "was_running", ok)
	return nil
}

// teardown stops the tunnel, then the server. Errors are logged, not
// returned: the share is stopping either way.
func (s *Service) teardown(log *log.Logger, r *running) {
	if err := r.tunnel.Stop(); err != nil {
		log.Warn("stop tunnel", "error", err)
	}
	s.stopServer(log, r.server)
}

func (s *Service) stopServer(log *log.Logger, srv ServerHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error("stop session server", "port", srv.Port(), "error", err)
	}
}

// ListShares returns every persisted share, newest first.
func (s *Service) ListShares(ctx context.Context) ([]Info, error) {
	return s.store.ListShares(ctx)
}

// ListActiveShares returns active shares, newest first.
func (s *Service) ListActiveShares(ctx context.Context) ([]Info, error) {
	return s.store.ListSharesByStatus(ctx, StatusActive)
}

// GetShare returns one share or an error wrapping ErrShareNotFound.
func (s *Service) GetShare(ctx context.Context, id ID) (Info, error) {
	return s.store.GetShare(ctx, id)
}

// RestoreOnStartup reconciles rows left behind by a previous daemon. Its
// handles did not survive, so every starting or active row becomes error.
// It must run before the daemon accepts requests.
func (s *Service) RestoreOnStartup(ctx context.Context) (int, error) {
	n, err := s.store.TransitionShares(ctx, StatusError, StatusStarting, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("restore shares: %w", err)
	}
	if n > 0 {
		s.log.Info("marked orphaned shares as error", "count", n)
	}
	return int(n), nil
}

// CleanupOldShares deletes stopped and errored shares that started more than
// maxAge ago. Starting and active shares are never removed by age.
func (s *Service) CleanupOldShares(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.store.DeleteTerminalSharesBefore(ctx, s.opts.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("cleanup shares: %w", err)
	}
	if n > 0 {
		s.log.Info("removed old shares", "count", n, "max_age", maxAge)
	}
	return int(n), nil
}

// StopAllShares stops every running share and refuses new ones. Failures
// are logged per share.
func (s *Service) StopAllShares(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	ids := make([]ID, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.StopShare(ctx, id); err != nil {
			s.log.Error("stop share during shutdown", "share_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		s.log.Info("stopped all shares", "count", len(ids))
	}
}

// RunningCount returns the number of shares with live handles.
func (s *Service) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}

func (s *Service) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
