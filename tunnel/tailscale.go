package tunnel

import (
	"context"
	"encoding/json"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var permissionDenied = regexp.MustCompile(`(?i)access denied|permission denied`)

// Tailscale serves the port over HTTPS on this machine's tailnet name with
// `tailscale serve`. The URL is reachable only from the tailnet.
type Tailscale struct {
	// Binary defaults to "tailscale".
	Binary string
	// Settle is how long serve must stay up before the tunnel counts as
	// ready. Defaults to 2s.
	Settle time.Duration

	status singleflight.Group
}

func (t *Tailscale) Name() string        { return "tailscale" }
func (t *Tailscale) DisplayName() string { return "Tailscale Serve" }

func (t *Tailscale) binary() string {
	if t.Binary == "" {
		return "tailscale"
	}
	return t.Binary
}

type tailscaleStatus struct {
	BackendState string `json:"BackendState"`
	Self         struct {
		DNSName string `json:"DNSName"`
		Online  bool   `json:"Online"`
	} `json:"Self"`
}

// queryStatus runs `tailscale status --json`. Concurrent callers share one
// subprocess.
func (t *Tailscale) queryStatus(ctx context.Context) (*tailscaleStatus, error) {
	path, err := lookBinary(t.Name(), t.binary(), ErrBinaryNotFound)
	if err != nil {
		return nil, err
	}

	v, err, _ := t.status.Do("status", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, path, "status", "--json").Output()
		if err != nil {
			return nil, newError(t.Name(), ErrNotAvailable, "tailscale status failed", err)
		}
		var st tailscaleStatus
		if err := json.Unmarshal(out, &st); err != nil {
			return nil, newError(t.Name(), ErrURLParseFailed, "decode tailscale status", err)
		}
		return &st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tailscaleStatus), nil
}

// IsAvailable requires the binary and a running, logged-in backend.
func (t *Tailscale) IsAvailable(ctx context.Context) bool {
	st, err := t.queryStatus(ctx)
	return err == nil && st.BackendState == "Running"
}

func (t *Tailscale) Spawn(ctx context.Context, localPort int) (Handle, error) {
	st, err := t.queryStatus(ctx)
	if err != nil {
		return nil, err
	}
	if st.BackendState != "Running" {
		return nil, newError(t.Name(), ErrNotAvailable,
			"tailscale backend is "+st.BackendState+"; run `tailscale up` first", nil)
	}
	host := strings.TrimSuffix(st.Self.DNSName, ".")
	if host == "" {
		return nil, newError(t.Name(), ErrURLParseFailed, "tailscale status has no DNS name for this node", nil)
	}

	path, err := lookBinary(t.Name(), t.binary(), ErrBinaryNotFound)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, "serve", "--https=443", localURL(localPort))
	p, err := startProcess(t.Name(), cmd, nil)
	if err != nil {
		return nil, err
	}

	select {
	case <-p.done:
		return nil, t.classifyExit(p)
	case <-ctx.Done():
		if stopErr := p.stop(); stopErr != nil {
			p.log.Warn("stop after cancelled spawn", "error", stopErr)
		}
		return nil, newError(t.Name(), ErrSpawnFailed, "cancelled", ctx.Err())
	case <-time.After(durationOr(t.Settle, 2*time.Second)):
	}

	url := "https://" + host
	p.log.Info("tunnel ready", "url", url, "port", localPort)
	return newHandle(url, p), nil
}

// classifyExit turns an early exit into an error. Operator permission
// problems are reported as NotAvailable with the fix.
func (t *Tailscale) classifyExit(p *process) error {
	out := p.output()
	if permissionDenied.MatchString(out) {
		return newError(t.Name(), ErrNotAvailable,
			"tailscale serve needs operator rights; run `sudo tailscale set --operator=$USER`", p.waitErr)
	}
	return p.exitError()
}
