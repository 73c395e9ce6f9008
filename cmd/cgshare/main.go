package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func main() {
	root := &cli.Command{
		Name:  "cgshare",
		Usage: "Share agent session transcripts through a public tunnel",
		Description: `A background daemon keeps each share alive: it renders the session,
serves it on a local port and exposes that port through cloudflared,
ngrok or tailscale. The daemon starts on first use.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log",
				Usage: "Log level: debug, info, warn, error",
				Value: "error",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level, err := log.ParseLevel(cmd.String("log"))
			if err != nil {
				return ctx, err
			}
			log.SetLevel(level)
			return ctx, nil
		},
		Commands: []*cli.Command{
			shareCmd(),
			daemonCmd(),
			providersCmd(),
			serveCmd(),
			configCmd(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
