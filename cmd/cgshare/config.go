package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/sonnes/cgshare/config"
)

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or create the configuration file",
		Commands: []*cli.Command{
			{
				Name:  "path",
				Usage: "Print the configuration file path",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dirs, err := config.ResolveDirs()
					if err != nil {
						return err
					}
					fmt.Println(dirs.ConfigFile())
					return nil
				},
			},
			{
				Name:  "init",
				Usage: "Write a configuration file with default values",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					dirs, err := config.ResolveDirs()
					if err != nil {
						return err
					}
					path := dirs.ConfigFile()
					if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					} else if err != nil && !errors.Is(err, os.ErrNotExist) {
						return err
					}
					if err := config.Default().Save(path); err != nil {
						return err
					}
					fmt.Printf("wrote %s\n", path)
					return nil
				},
			},
		},
	}
}
