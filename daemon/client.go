package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sonnes/cgshare/share"
)

var (
	ErrNotRunning         = errors.New("daemon is not running")
	ErrUnexpectedResponse = errors.New("unexpected response from daemon")
	ErrConnectionClosed   = errors.New("connection closed by daemon")
	// ErrBroken is returned by every call once an earlier call failed
	// mid-exchange or the Client was closed.
	ErrBroken = errors.New("daemon connection is unusable after a failed call")
)

const (
	// DefaultTimeout bounds a request/response round trip.
	DefaultTimeout = 10 * time.Second
	// StartShareTimeout covers URL discovery, which can take as long as the
	// slowest provider's own timeout.
	StartShareTimeout = 60 * time.Second

	dialTimeout = 2 * time.Second
)

// RemoteError is an Error response from the daemon.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "daemon: " + e.Message }

// Client is one connection to the daemon. Calls are serialized; a Client is
// safe for concurrent use. After a send or read fails the Client is broken
// and must be replaced.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	broken atomic.Bool
}

// Connect dials the daemon socket at path. It returns an error wrapping
// ErrNotRunning when nothing is listening there.
func Connect(path string) (*Client, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no socket at %s", ErrNotRunning, path)
	}

	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		if errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %w", ErrNotRunning, err)
		}
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}
	return &Client{conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.broken.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Ping checks that the daemon is answering.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.call(ctx, PingRequest{}, DefaultTimeout)
	if err != nil {
		return err
	}
	if _, ok := resp.(PongResponse); !ok {
		return unexpected(resp)
	}
	return nil
}

// StartShare asks the daemon to share the session at sessionPath. An empty
// provider selects the daemon's default.
func (c *Client) StartShare(ctx context.Context, sessionPath, provider string) (share.Info, error) {
	resp, err := c.call(ctx, StartShareRequest{SessionPath: sessionPath, Provider: provider}, StartShareTimeout)
	if err != nil {
		return share.Info{}, err
	}
	started, ok := resp.(ShareStartedResponse)
	if !ok {
		return share.Info{}, unexpected(resp)
	}
	return started.Share, nil
}

// StopShare stops a share. Stopping an unknown share succeeds.
func (c *Client) StopShare(ctx context.Context, id share.ID) error {
	resp, err := c.call(ctx, StopShareRequest{ShareID: id}, DefaultTimeout)
	if err != nil {
		return err
	}
	stopped, ok := resp.(ShareStoppedResponse)
	if !ok || stopped.ShareID != id {
		return unexpected(resp)
	}
	return nil
}

// ListShares returns every share the daemon knows, newest first.
func (c *Client) ListShares(ctx context.Context) ([]share.Info, error) {
	resp, err := c.call(ctx, ListSharesRequest{}, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	list, ok := resp.(ShareListResponse)
	if !ok {
		return nil, unexpected(resp)
	}
	return list.Shares, nil
}

// Shutdown asks the daemon to stop. It returns once the daemon has
// acknowledged; the daemon exits shortly after.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.call(ctx, ShutdownRequest{}, DefaultTimeout)
	if err != nil {
		return err
	}
	if _, ok := resp.(ShuttingDownResponse); !ok {
		return unexpected(resp)
	}
	return nil
}

func (c *Client) call(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	line, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken.Load() {
		return nil, fmt.Errorf("%s: %w", req.method(), ErrBroken)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.breakConn()
		return nil, fmt.Errorf("%s: %w", req.method(), err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := c.conn.Write(line); err != nil {
		c.breakConn()
		return nil, c.ioError(ctx, req, "send", err)
	}
	respLine, err := c.r.ReadBytes('\n')
	if err != nil {
		c.breakConn()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", req.method(), ErrConnectionClosed)
		}
		return nil, c.ioError(ctx, req, "read", err)
	}

	resp, err := DecodeResponse(respLine)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.method(), err)
	}
	if e, ok := resp.(ErrorResponse); ok {
		return nil, &RemoteError{Message: e.Message}
	}
	return resp, nil
}

// breakConn drops the connection so a late reply is never read as the
// answer to a later request.
func (c *Client) breakConn() {
	if !c.broken.Swap(true) {
		_ = c.conn.Close()
	}
}

func (c *Client) ioError(ctx context.Context, req Request, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", req.method(), ctxErr)
	}
	return fmt.Errorf("%s: %s: %w", req.method(), op, err)
}

func unexpected(resp Response) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedResponse, resp.status())
}
