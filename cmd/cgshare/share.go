package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/sonnes/cgshare/daemon"
	"github.com/sonnes/cgshare/share"
)

func shareCmd() *cli.Command {
	return &cli.Command{
		Name:  "share",
		Usage: "Start, stop and list shares",
		Commands: []*cli.Command{
			shareStartCmd(),
			shareStopCmd(),
			shareListCmd(),
			shareWatchCmd(),
		},
	}
}

func shareStartCmd() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Share a session through a public tunnel",
		ArgsUsage: "[session.jsonl]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Tunnel provider: cloudflare, ngrok, tailscale (default from config)",
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Claude session ID to share instead of a file path",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the share as JSON",
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

			c, err := e.connectOrStart(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			log.Debug("starting share", "path", path, "provider", cmd.String("provider"))
			info, err := c.StartShare(ctx, path, cmd.String("provider"))
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(info)
			}
			fmt.Print(renderStarted(info))
			return nil
		},
	}
}

func shareStopCmd() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Usage:     "Stop a share",
		ArgsUsage: "<share-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			arg := cmd.Args().First()
			if arg == "" {
				return errors.New("a share id is required")
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			c, err := e.connect()
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := resolveShareID(ctx, c, arg)
			if err != nil {
				return err
			}
			if err := c.StopShare(ctx, id); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", id)
			return nil
		},
	}
}

func shareListCmd() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List shares",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "active",
				Usage: "Only list active shares",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print shares as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			c, err := e.connect()
			if err != nil {
				return err
			}
			defer c.Close()

			shares, err := c.ListShares(ctx)
			if err != nil {
				return err
			}
			if cmd.Bool("active") {
				shares = activeOnly(shares)
			}

			if cmd.Bool("json") {
				return printJSON(shares)
			}
			fmt.Print(renderShares(shares, terminalWidth(), time.Now()))
			return nil
		},
	}
}

// resolveShareID accepts a full id or a unique prefix of one.
func resolveShareID(ctx context.Context, c *daemon.Client, arg string) (share.ID, error) {
	if id, err := share.ParseID(arg); err == nil {
		return id, nil
	}
	shares, err := c.ListShares(ctx)
	if err != nil {
		return share.ID{}, err
	}
	return matchShareID(shares, arg)
}

func matchShareID(shares []share.Info, prefix string) (share.ID, error) {
	var matches []share.ID
	for _, s := range shares {
		if strings.HasPrefix(s.ID.String(), strings.ToLower(prefix)) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return share.ID{}, fmt.Errorf("no share matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return share.ID{}, fmt.Errorf("%q matches %d shares; use more characters", prefix, len(matches))
	}
}

func activeOnly(shares []share.Info) []share.Info {
	out := []share.Info{}
	for _, s := range shares {
		if s.Status == share.StatusActive {
			out = append(out, s)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
