package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/sonnes/cgshare/daemon"
	"github.com/sonnes/cgshare/logger"
)

func daemonCmd() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run or control the share daemon",
		Commands: []*cli.Command{
			daemonRunCmd(),
			daemonStopCmd(),
			daemonStatusCmd(),
		},
	}
}

func daemonRunCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the daemon in the foreground",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "stderr",
				Usage: "Log to stderr instead of the daemon log file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}

			level := log.InfoLevel
			if cmd.IsSet("log") {
				level = log.GetLevel()
			}
			if cmd.Bool("stderr") {
				log.SetDefault(logger.New(os.Stderr, level))
			} else {
				if err := logger.Init(e.paths.Log, level); err != nil {
					return err
				}
				defer logger.Close()
			}

			// Survive the terminal that launched us closing.
			signal.Ignore(syscall.SIGHUP)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := daemon.Run(ctx, e.cfg, e.paths); err != nil {
				log.Error("daemon exited", "error", err)
				return err
			}
			return nil
		},
	}
}

func daemonStopCmd() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Stop the daemon and every share it runs",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			c, err := daemon.Connect(e.paths.Socket)
			if errors.Is(err, daemon.ErrNotRunning) {
				fmt.Println("daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			pid, _ := daemon.ReadPID(e.paths.PID)

			err = c.Shutdown(ctx)
			_ = c.Close()
			if err != nil {
				return err
			}

			if pid > 0 && !waitForExit(ctx, pid, 15*time.Second) {
				return fmt.Errorf("daemon (pid %d) acknowledged shutdown but is still running", pid)
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func waitForExit(ctx context.Context, pid int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for daemon.ProcessAlive(pid) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func daemonStatusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether the daemon is running",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}

			pid, err := daemon.ReadPID(e.paths.PID)
			if err != nil {
				log.Warn("read pid file", "error", err)
			}

			state := "not running"
			active := "-"
			if c, err := daemon.Connect(e.paths.Socket); err == nil {
				pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if shares, err := c.ListShares(pctx); err == nil {
					state = "running"
					active = fmt.Sprint(len(activeOnly(shares)))
				} else {
					state = "not responding: " + err.Error()
				}
				cancel()
				_ = c.Close()
			} else if pid > 0 && daemon.ProcessAlive(pid) {
				state = "process alive, socket unreachable"
			}

			pidText := "-"
			if pid > 0 {
				pidText = fmt.Sprint(pid)
			}
			rows := [][2]string{
				{"status", state},
				{"pid", pidText},
				{"active shares", active},
				{"socket", e.paths.Socket},
				{"database", e.paths.DB},
				{"log", e.paths.Log},
				{"config", e.dirs.ConfigFile()},
			}
			for _, r := range rows {
				fmt.Printf("%s %s\n", styleDim.Render(pad(r[0], 14)), r[1])
			}
			return nil
		},
	}
}
