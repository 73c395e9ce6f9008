package tunnel

import (
	"context"
	"os/exec"
	"regexp"
	"time"
)

var trycloudflareURL = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// Cloudflare runs an account-free cloudflared quick tunnel. The assigned
// hostname is printed in cloudflared's log output.
type Cloudflare struct {
	// Binary defaults to "cloudflared".
	Binary string
	// Timeout bounds URL discovery. Defaults to 30s.
	Timeout time.Duration
}

func (c *Cloudflare) Name() string        { return "cloudflare" }
func (c *Cloudflare) DisplayName() string { return "Cloudflare Quick Tunnel" }

func (c *Cloudflare) binary() string {
	if c.Binary == "" {
		return "cloudflared"
	}
	return c.Binary
}

func (c *Cloudflare) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// IsAvailable reports whether cloudflared is on PATH.
func (c *Cloudflare) IsAvailable(context.Context) bool {
	_, err := exec.LookPath(c.binary())
	return err == nil
}

func (c *Cloudflare) Spawn(ctx context.Context, localPort int) (Handle, error) {
	path, err := lookBinary(c.Name(), c.binary(), ErrNotAvailable)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, "tunnel", "--no-autoupdate", "--url", localURL(localPort))
	p, err := startProcess(c.Name(), cmd, matchCloudflare)
	if err != nil {
		return nil, err
	}

	url, err := p.awaitURL(ctx, c.timeout())
	if err != nil {
		if stopErr := p.stop(); stopErr != nil {
			p.log.Warn("stop after failed spawn", "error", stopErr)
		}
		return nil, err
	}
	p.log.Info("tunnel ready", "url", url, "port", localPort)
	return newHandle(url, p), nil
}

func matchCloudflare(line string) (string, bool) {
	url := trycloudflareURL.FindString(line)
	// api.trycloudflare.com appears in error lines and is never a tunnel.
	if url == "" || url == "https://api.trycloudflare.com" {
		return "", false
	}
	return url, true
}
