package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/sonnes/cgshare/daemon"
	"github.com/sonnes/cgshare/share"
)

func shareWatchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Show a live view of shares",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Refresh interval",
				Value: 2 * time.Second,
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
			src := &shareSource{connect: e.connect, client: c}
			defer src.close()

			m := newWatchModel(src.list, cmd.Duration("interval"))
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
}

// shareSource lists shares over one daemon connection, dialing a new one
// after a call leaves the old connection unusable.
type shareSource struct {
	connect func() (*daemon.Client, error)

	mu     sync.Mutex
	client *daemon.Client
}

func (s *shareSource) list(ctx context.Context) ([]share.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		c, err := s.connect()
		if err != nil {
			return nil, err
		}
		s.client = c
	}

	shares, err := s.client.ListShares(ctx)
	var remote *daemon.RemoteError
	if err != nil && !errors.As(err, &remote) {
		_ = s.client.Close()
		s.client = nil
	}
	return shares, err
}

func (s *shareSource) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

// listFunc fetches the current shares.
type listFunc func(ctx context.Context) ([]share.Info, error)

type watchModel struct {
	list       listFunc
	interval   time.Duration
	now        func() time.Time
	width      int
	activeOnly bool

	shares  []share.Info
	err     error
	fetched time.Time
}

type sharesMsg struct {
	shares []share.Info
	err    error
}

type tickMsg time.Time

func newWatchModel(list listFunc, interval time.Duration) watchModel {
	return watchModel{list: list, interval: interval, now: time.Now, width: defaultWidth}
}

func (m watchModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shares, err := m.list(ctx)
		return sharesMsg{shares: shares, err: err}
	}
}

func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return m.fetchCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "a":
			m.activeOnly = !m.activeOnly
		case "r":
			return m, m.fetchCmd()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case sharesMsg:
		m.shares, m.err = msg.shares, msg.err
		m.fetched = m.now()
		return m, m.tickCmd()
	case tickMsg:
		return m, m.fetchCmd()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	title := "Shares"
	if m.activeOnly {
		title = "Active shares"
	}
	b.WriteString(styleTitle.Render(title))
	if !m.fetched.IsZero() {
		b.WriteString(styleDim.Render(fmt.Sprintf("  updated %s", m.fetched.Format("15:04:05"))))
	}
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(statusStyles[share.StatusError].Render("✘ " + m.err.Error()))
		b.WriteString("\n")
	case m.fetched.IsZero():
		b.WriteString(styleDim.Render("loading…") + "\n")
	default:
		shares := m.shares
		if m.activeOnly {
			shares = activeOnly(shares)
		}
		b.WriteString(renderShares(shares, m.width, m.now()))
	}

	b.WriteString("\n" + styleDim.Render("a active only · r refresh · q quit"))
	return b.String()
}
