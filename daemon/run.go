package daemon

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sonnes/cgshare/compact"
	"github.com/sonnes/cgshare/config"
	"github.com/sonnes/cgshare/core"
	"github.com/sonnes/cgshare/logger"
	"github.com/sonnes/cgshare/reader/claude"
	"github.com/sonnes/cgshare/redact"
	"github.com/sonnes/cgshare/server"
	"github.com/sonnes/cgshare/share"
	"github.com/sonnes/cgshare/store"
	"github.com/sonnes/cgshare/tunnel"
)

// Keys written to the daemon_state table.
const (
	StateStartedAt     = "started_at"
	StatePID           = "pid"
	StateLastCleanupAt = "last_cleanup_at"
)

// Providers builds the tunnel registry described by cfg.
func Providers(cfg *config.Config) *tunnel.Registry {
	return tunnel.NewRegistry(
		&tunnel.Cloudflare{Timeout: cfg.Tunnel.Timeout},
		&tunnel.Ngrok{AuthToken: cfg.Ngrok.AuthToken},
		&tunnel.Tailscale{},
	)
}

// Run runs the daemon in the foreground until ctx is done or a client asks
// it to shut down.
func Run(ctx context.Context, cfg *config.Config, paths Paths) error {
	return run(ctx, cfg, paths, Providers(cfg), &claude.Reader{})
}

func run(ctx context.Context, cfg *config.Config, paths Paths, providers *tunnel.Registry, parser share.Parser) error {
	log := logger.WithComponent("daemon")

	transformers := []core.Transformer{
		core.Cleaner{},
		compact.New(compact.Options{HideThinking: cfg.Page.HideThinking, SummarizeTools: cfg.Page.CompactTools}),
	}
	redactor, err := redact.New(redact.Config{Categories: cfg.Redact})
	if err != nil {
		return fmt.Errorf("configure redaction: %w", err)
	}
	if redactor != nil {
		transformers = append(transformers, redactor)
	}

	// A second daemon fails here, before it touches the database.
	srv := NewServer(paths, nil, WithLogger(log))
	if err := srv.Listen(); err != nil {
		return err
	}

	st, err := store.Open(paths.DB)
	if err != nil {
		srv.Close()
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	}()

	sessions := server.New()
	svc := share.NewService(parser, share.SessionServerFunc(func(t *core.Transcript) (share.ServerHandle, error) {
		inst, err := sessions.Serve(t)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}), st, providers, share.Options{
		Transformers:    transformers,
		DefaultProvider: cfg.DefaultProvider,
	})
	srv.svc = svc

	// Listening but not yet accepting: reconcile before any request can
	// start a share.
	if _, err := svc.RestoreOnStartup(ctx); err != nil {
		srv.Close()
		return err
	}
	recordStart(ctx, st)
	cleanup(ctx, svc, st, cfg.Cleanup.MaxAge)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	var sweeping sync.WaitGroup
	if cfg.Cleanup.Interval > 0 {
		sweeping.Go(func() { sweep(sweepCtx, svc, st, cfg.Cleanup) })
	}

	log.Info("daemon started", "providers", providers.Names(), "default_provider", cfg.DefaultProvider)
	err = srv.Serve(ctx)
	stopSweep()
	sweeping.Wait()

	if derr := st.DeleteState(context.Background(), StatePID); derr != nil {
		log.Warn("clear daemon state", "error", derr)
	}
	return err
}

func recordStart(ctx context.Context, st *store.Store) {
	log := logger.WithComponent("daemon")
	for key, value := range map[string]string{
		StateStartedAt: time.Now().UTC().Format(time.RFC3339),
		StatePID:       strconv.Itoa(os.Getpid()),
	} {
		if err := st.SetState(ctx, key, value); err != nil {
			log.Warn("record daemon state", "key", key, "error", err)
		}
	}
}

func cleanup(ctx context.Context, svc *share.Service, st *store.Store, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	log := logger.WithComponent("daemon")
	if _, err := svc.CleanupOldShares(ctx, maxAge); err != nil {
		log.Warn("cleanup old shares", "error", err)
		return
	}
	if err := st.SetState(ctx, StateLastCleanupAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn("record cleanup", "error", err)
	}
}

func sweep(ctx context.Context, svc *share.Service, st *store.Store, cfg config.Cleanup) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup(ctx, svc, st, cfg.MaxAge)
		}
	}
}
