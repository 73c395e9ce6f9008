package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sonnes/cgshare/daemon"
	"github.com/sonnes/cgshare/share"
	"github.com/sonnes/cgshare/tunnel"
)

func providersCmd() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "List tunnel providers and whether they can be used here",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			reg := daemon.Providers(e.cfg)
			for _, line := range providerLines(ctx, reg, e.cfg.DefaultProvider) {
				fmt.Println(line)
			}
			return nil
		},
	}
}

// providerLines checks every provider concurrently; tailscale shells out and
// can be slow.
func providerLines(ctx context.Context, reg *tunnel.Registry, defaultName string) []string {
	names := reg.Names()
	available := make([]bool, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		p, _ := reg.Get(name)
		g.Go(func() error {
			available[i] = p.IsAvailable(ctx)
			return nil
		})
	}
	_ = g.Wait()

	lines := make([]string, len(names))
	for i, name := range names {
		p, _ := reg.Get(name)
		status := statusStyles[share.StatusError].Render("✘ unavailable")
		if available[i] {
			status = statusStyles[share.StatusActive].Render("● available")
		}
		marker := "  "
		if name == defaultName {
			marker = "* "
		}
		lines[i] = fmt.Sprintf("%s%s %s  %s", marker, pad(name, 10), pad(status, 14), styleDim.Render(p.DisplayName()))
	}
	return lines
}
