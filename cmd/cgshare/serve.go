package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/sonnes/cgshare/compact"
	"github.com/sonnes/cgshare/core"
	"github.com/sonnes/cgshare/reader/claude"
	"github.com/sonnes/cgshare/redact"
	"github.com/sonnes/cgshare/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "Serve a session on localhost only, without a tunnel",
		ArgsUsage: "[session.jsonl]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Claude session ID to serve instead of a file path",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on (0 picks a free port)",
				Value: 8080,
			},
			&cli.BoolFlag{
				Name:  "hide-thinking",
				Usage: "Leave thinking blocks out of the page",
			},
			&cli.BoolFlag{
				Name:  "compact",
				Usage: "Replace tool output and file bodies with line counts",
			},
			&cli.BoolFlag{
				Name:  "no-redact",
				Usage: "Disable redaction of secrets and PII",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := sessionPath(cmd)
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}

			t, err := (&claude.Reader{}).ReadFile(path)
			if err != nil {
				return err
			}
			transformers := []core.Transformer{
				core.Cleaner{},
				compact.New(compact.Options{
					HideThinking:   e.cfg.Page.HideThinking || cmd.Bool("hide-thinking"),
					SummarizeTools: e.cfg.Page.CompactTools || cmd.Bool("compact"),
				}),
			}
			if !cmd.Bool("no-redact") {
				redactor, err := redact.New(redact.Config{Categories: e.cfg.Redact})
				if err != nil {
					return err
				}
				if redactor != nil {
					transformers = append(transformers, redactor)
				}
			}
			if err := core.Chain(t, transformers...); err != nil {
				return fmt.Errorf("transform: %w", err)
			}

			inst, err := server.New().ServeOn(t, cmd.Int("port"))
			if err != nil {
				return err
			}
			fmt.Printf("serving %s at %s\n", t.Title, styleURL.Render(fmt.Sprintf("http://127.0.0.1:%d/", inst.Port())))

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			done := make(chan error, 1)
			go func() { done <- inst.Wait() }()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
			}

			log.Debug("stopping local server")
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return inst.Stop(sctx)
		},
	}
}
