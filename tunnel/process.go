package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/sonnes/cgshare/logger"
)

const (
	defaultGrace = 5 * time.Second
	tailLines    = 20
)

// matchFunc extracts a URL from one output line.
type matchFunc func(line string) (string, bool)

// process is a tunnel binary running in its own process group, with stdout
// and stderr merged into one pipe that is drained until EOF.
type process struct {
	provider string
	cmd      *exec.Cmd
	log      *log.Logger
	grace    time.Duration

	urls       chan string // first match only
	done       chan struct{}
	waitErr    error
	outputDone chan struct{}

	mu   sync.Mutex
	tail []string

	stopOnce sync.Once
	stopErr  error
}

// startProcess starts cmd and begins draining its output. match may be nil.
func startProcess(provider string, cmd *exec.Cmd, match matchFunc) (*process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, newError(provider, ErrSpawnFailed, "create output pipe", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.Stdin = nil
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, newError(provider, ErrSpawnFailed, "start "+cmd.Path, err)
	}
	_ = w.Close()

	p := &process{
		provider:   provider,
		cmd:        cmd,
		log:        logger.WithComponent("tunnel").With("provider", provider, "pid", cmd.Process.Pid),
		grace:      defaultGrace,
		urls:       make(chan string, 1),
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	go p.drain(r, match)

	p.log.Debug("started", "args", cmd.Args[1:])
	return p, nil
}

func (p *process) drain(f *os.File, match matchFunc) {
	defer close(p.outputDone)
	defer f.Close()

	matched := false
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		p.log.Debug(line)

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > tailLines {
			p.tail = p.tail[len(p.tail)-tailLines:]
		}
		p.mu.Unlock()

		if match != nil && !matched {
			if url, ok := match(line); ok {
				matched = true
				p.urls <- url
			}
		}
	}
}

// output returns the last lines the process wrote. After an exit it waits
// briefly for the drain to catch up.
func (p *process) output() string {
	select {
	case <-p.done:
		select {
		case <-p.outputDone:
		case <-time.After(500 * time.Millisecond):
		}
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}

// exitError describes an exit that happened before the tunnel was ready.
func (p *process) exitError() error {
	reason := "exited before the tunnel was ready"
	if out := p.output(); out != "" {
		reason += ": " + lastLine(out)
	}
	return newError(p.provider, ErrProcessExited, reason, p.waitErr)
}

// awaitURL blocks until the drain matches a URL. The process is not stopped
// on failure; callers release it.
func (p *process) awaitURL(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case url := <-p.urls:
		return url, nil
	case <-p.done:
		select {
		case url := <-p.urls:
			return url, nil
		default:
		}
		return "", p.exitError()
	case <-timer.C:
		return "", newError(p.provider, ErrTimeout, fmt.Sprintf("no url after %s", timeout), nil)
	case <-ctx.Done():
		return "", newError(p.provider, ErrSpawnFailed, "cancelled", ctx.Err())
	}
}

// stop sends SIGTERM to the process group, escalating to SIGKILL after the
// grace period, and waits for the leader to exit.
func (p *process) stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.terminate()
	})
	return p.stopErr
}

func (p *process) terminate() error {
	pgid := p.cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s process group: %w", p.provider, err)
	}

	select {
	case <-p.done:
		p.log.Debug("stopped")
		return nil
	case <-time.After(p.grace):
	}

	p.log.Warn("process ignored SIGTERM, killing", "grace", p.grace)
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill %s process group: %w", p.provider, err)
	}
	<-p.done
	return nil
}

// handle is the Handle returned by the process-backed providers.
type handle struct {
	url  string
	proc *process
}

// newHandle wraps p. If the handle becomes unreachable without Stop, the
// process is stopped by the runtime cleanup.
func newHandle(url string, p *process) *handle {
	h := &handle{url: url, proc: p}
	runtime.AddCleanup(h, func(p *process) {
		go func() {
			select {
			case <-p.done:
				return
			default:
			}
			p.log.Warn("tunnel handle dropped without Stop")
			if err := p.stop(); err != nil {
				p.log.Warn("stop dropped tunnel", "error", err)
			}
		}()
	}, p)
	return h
}

func (h *handle) URL() string      { return h.url }
func (h *handle) Provider() string { return h.proc.provider }
func (h *handle) Stop() error      { return h.proc.stop() }

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// lookBinary resolves name on PATH. kind is the error kind used when the
// binary is missing.
func lookBinary(provider, name string, kind error) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", newError(provider, kind, name+" is not installed or not on PATH", err)
	}
	return path, nil
}
