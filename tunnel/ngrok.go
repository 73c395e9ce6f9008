package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

var ngrokURL = regexp.MustCompile(`\burl=(https://[^\s"]+)`)

// Ngrok runs an ngrok agent. The URL is discovered by racing the agent's
// logfmt stdout against its local inspection API.
type Ngrok struct {
	// Binary defaults to "ngrok".
	Binary string
	// AuthToken is passed as NGROK_AUTHTOKEN when set.
	AuthToken string
	// APIURL is the agent's inspection API. Defaults to http://127.0.0.1:4040.
	APIURL string
	// Timeout bounds URL discovery. Defaults to 20s.
	Timeout time.Duration
	// StdoutWindow is how long stdout has the race to itself. Defaults to 3s.
	StdoutWindow time.Duration
	// PollInterval defaults to 500ms.
	PollInterval time.Duration

	Client *http.Client
}

func (n *Ngrok) Name() string        { return "ngrok" }
func (n *Ngrok) DisplayName() string { return "ngrok" }

func (n *Ngrok) binary() string {
	if n.Binary == "" {
		return "ngrok"
	}
	return n.Binary
}

func (n *Ngrok) IsAvailable(context.Context) bool {
	_, err := exec.LookPath(n.binary())
	return err == nil
}

func (n *Ngrok) Spawn(ctx context.Context, localPort int) (Handle, error) {
	path, err := lookBinary(n.Name(), n.binary(), ErrBinaryNotFound)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, "http", strconv.Itoa(localPort), "--log", "stdout", "--log-format", "logfmt")
	cmd.Env = os.Environ()
	if n.AuthToken != "" {
		cmd.Env = append(cmd.Env, "NGROK_AUTHTOKEN="+n.AuthToken)
	}

	p, err := startProcess(n.Name(), cmd, matchNgrok)
	if err != nil {
		return nil, err
	}

	url, err := n.discover(ctx, p, localPort)
	if err != nil {
		if stopErr := p.stop(); stopErr != nil {
			p.log.Warn("stop after failed spawn", "error", stopErr)
		}
		return nil, err
	}
	p.log.Info("tunnel ready", "url", url, "port", localPort)
	return newHandle(url, p), nil
}

// discover races stdout against the inspection API. Only stdout can win
// during the initial window; after it, whichever resolves first wins.
func (n *Ngrok) discover(ctx context.Context, p *process, localPort int) (string, error) {
	timeout := durationOr(n.Timeout, 20*time.Second)
	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(raceCtx)
	found := make(chan string, 2)
	win := func(url string) {
		found <- url
		cancel()
	}

	g.Go(func() error {
		select {
		case url := <-p.urls:
			win(url)
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-time.After(durationOr(n.StdoutWindow, 3*time.Second)):
		case <-gctx.Done():
			return nil
		}
		ticker := time.NewTicker(durationOr(n.PollInterval, 500*time.Millisecond))
		defer ticker.Stop()
		for {
			url, err := n.pollAPI(gctx, localPort)
			if err != nil && gctx.Err() == nil {
				p.log.Debug("poll inspection api", "error", err)
			}
			if url != "" {
				win(url)
				return nil
			}
			select {
			case <-ticker.C:
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		select {
		case <-p.done:
			return p.exitError()
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	select {
	case url := <-found:
		return url, nil
	default:
	}
	switch {
	case err != nil:
		return "", err
	case ctx.Err() != nil:
		return "", newError(n.Name(), ErrSpawnFailed, "cancelled", ctx.Err())
	default:
		return "", newError(n.Name(), ErrTimeout, fmt.Sprintf("no url after %s", timeout), nil)
	}
}

type ngrokTunnels struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// pollAPI returns the https URL of the tunnel forwarding to localPort, or ""
// when none is listed yet.
func (n *Ngrok) pollAPI(ctx context.Context, localPort int) (string, error) {
	base := n.APIURL
	if base == "" {
		base = "http://127.0.0.1:4040"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/api/tunnels", nil)
	if err != nil {
		return "", err
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inspection api: %s", resp.Status)
	}

	var body ngrokTunnels
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", newError(n.Name(), ErrURLParseFailed, "decode inspection api response", err)
	}

	suffix := ":" + strconv.Itoa(localPort)
	var fallback string
	for _, t := range body.Tunnels {
		if t.Config.Addr != "" && !strings.HasSuffix(t.Config.Addr, suffix) {
			continue
		}
		switch {
		case strings.HasPrefix(t.PublicURL, "https://"):
			return t.PublicURL, nil
		case fallback == "" && t.PublicURL != "":
			fallback = t.PublicURL
		}
	}
	if fallback != "" {
		return "", newError(n.Name(), ErrURLParseFailed, "no https url, only "+fallback, nil)
	}
	return "", errors.New("no tunnels listed")
}

func matchNgrok(line string) (string, bool) {
	m := ngrokURL.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
