package daemon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sonnes/cgshare/logger"
	"github.com/sonnes/cgshare/share"
)

// ErrAlreadyRunning is returned by Listen when another daemon answers on the
// socket.
var ErrAlreadyRunning = errors.New("daemon already running")

const (
	// MaxLineSize bounds one request line.
	MaxLineSize = 1 << 20

	defaultWriteTimeout = 10 * time.Second
	staleProbeTimeout   = time.Second
)

// Service is what the server dispatches requests to. *share.Service
// implements it.
type Service interface {
	StartShare(ctx context.Context, sessionPath, providerName string) (share.Info, error)
	StopShare(ctx context.Context, id share.ID) error
	ListShares(ctx context.Context) ([]share.Info, error)
	StopAllShares(ctx context.Context)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithWriteTimeout bounds each response write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// Server accepts clients on a unix socket and answers one response per
// request line.
type Server struct {
	paths        Paths
	svc          Service
	log          *log.Logger
	writeTimeout time.Duration

	ln       *net.UnixListener
	quit     chan struct{}
	quitOnce sync.Once

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer returns a Server for the socket and PID file in paths.
func NewServer(paths Paths, svc Service, opts ...Option) *Server {
	s := &Server{
		paths:        paths,
		svc:          svc,
		log:          logger.WithComponent("daemon"),
		writeTimeout: defaultWriteTimeout,
		quit:         make(chan struct{}),
		conns:        make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the socket and writes the PID file. A socket left by a dead
// daemon is removed; a live one fails with ErrAlreadyRunning.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.paths.Socket), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := s.clearStaleSocket(); err != nil {
		return err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.paths.Socket, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.paths.Socket, err)
	}
	// The socket file is removed explicitly, after shares are drained.
	ln.SetUnlinkOnClose(false)

	if err := os.Chmod(s.paths.Socket, 0600); err != nil {
		s.abort(ln)
		return fmt.Errorf("chmod socket: %w", err)
	}
	if err := writePID(s.paths.PID); err != nil {
		s.abort(ln)
		return fmt.Errorf("write pid file: %w", err)
	}

	s.ln = ln
	s.log.Info("listening", "socket", s.paths.Socket, "pid", os.Getpid())
	return nil
}

func (s *Server) clearStaleSocket() error {
	if _, err := os.Lstat(s.paths.Socket); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}

	conn, err := net.DialTimeout("unix", s.paths.Socket, staleProbeTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w at %s", ErrAlreadyRunning, s.paths.Socket)
	}

	s.log.Info("removing stale socket", "socket", s.paths.Socket, "dial_error", err)
	if err := os.Remove(s.paths.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) abort(ln *net.UnixListener) {
	_ = ln.Close()
	s.removeFiles()
}

// Close releases a listener that will never be served.
func (s *Server) Close() {
	if s.ln != nil {
		s.abort(s.ln)
	}
}

// Shutdown asks Serve to return. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Done is closed once shutdown has been requested.
func (s *Server) Done() <-chan struct{} { return s.quit }

func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// Serve accepts connections until ctx is done or a client sends Shutdown.
// It then stops accepting, stops every share, closes open connections and
// removes the socket and PID file, in that order.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("serve: Listen was not called")
	}
	if s.svc == nil {
		s.Close()
		return errors.New("serve: no service")
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.quit:
		}
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopping() {
				break
			}
			s.log.Error("accept", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(reqCtx, conn)
	}

	s.log.Info("shutting down")
	cancel()
	s.svc.StopAllShares(context.Background())
	s.closeConns()
	s.wg.Wait()
	s.removeFiles()
	s.log.Info("daemon stopped")
	return nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) removeFiles() {
	for _, path := range []string{s.paths.Socket, s.paths.PID} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove daemon file", "path", path, "error", err)
		}
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	lr := &lineReader{r: bufio.NewReaderSize(conn, 64*1024), max: MaxLineSize}
	for {
		var (
			resp     Response
			shutdown bool
		)
		line, err := lr.next()
		switch {
		case errors.Is(err, errLineTooLong):
			s.log.Warn("request too large", "limit", MaxLineSize)
			resp = ErrorResponse{Message: fmt.Sprintf("request exceeds %d bytes", MaxLineSize)}
		case err != nil:
			if !errors.Is(err, io.EOF) && !s.stopping() {
				s.log.Warn("read request", "error", err)
			}
			return
		default:
			resp, shutdown = s.dispatch(ctx, line)
		}

		if err := s.write(conn, resp); err != nil {
			if !s.stopping() {
				s.log.Warn("write response", "error", err)
			}
			return
		}
		if shutdown {
			s.Shutdown()
			return
		}
	}
}

var errLineTooLong = errors.New("line too long")

// lineReader reads newline-terminated lines of at most max bytes. An
// oversized line yields errLineTooLong as soon as the limit is crossed; its
// remainder is discarded on the following call.
type lineReader struct {
	r    *bufio.Reader
	max  int
	skip bool
}

func (lr *lineReader) next() ([]byte, error) {
	if lr.skip {
		lr.skip = false
		if err := lr.discard(); err != nil {
			return nil, err
		}
	}

	var line []byte
	for {
		chunk, err := lr.r.ReadSlice('\n')
		n := len(line) + len(chunk)
		if err == nil {
			n--
		}
		if n > lr.max {
			lr.skip = err != nil
			return nil, errLineTooLong
		}
		line = append(line, chunk...)

		switch {
		case err == nil:
			line = bytes.TrimSuffix(line[:len(line)-1], []byte("\r"))
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}

func (lr *lineReader) discard() error {
	for {
		_, err := lr.r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) (Response, bool) {
	req, err := DecodeRequest(line)
	if err != nil {
		s.log.Warn("malformed request", "error", err)
		return ErrorResponse{Message: err.Error()}, false
	}
	s.log.Debug("request", "method", req.method())

	switch r := req.(type) {
	case PingRequest:
		return PongResponse{}, false

	case StartShareRequest:
		info, err := s.svc.StartShare(ctx, r.SessionPath, r.Provider)
		if err != nil {
			return ErrorResponse{Message: err.Error()}, false
		}
		return ShareStartedResponse{Share: info}, false

	case StopShareRequest:
		if err := s.svc.StopShare(ctx, r.ShareID); err != nil {
			return ErrorResponse{Message: err.Error()}, false
		}
		return ShareStoppedResponse{ShareID: r.ShareID}, false

	case ListSharesRequest:
		shares, err := s.svc.ListShares(ctx)
		if err != nil {
			return ErrorResponse{Message: err.Error()}, false
		}
		return ShareListResponse{Shares: shares}, false

	case ShutdownRequest:
		s.log.Info("shutdown requested")
		return ShuttingDownResponse{}, true
	}
	return ErrorResponse{Message: fmt.Sprintf("unhandled method %s", req.method())}, false
}

func (s *Server) write(conn net.Conn, resp Response) error {
	line, err := EncodeResponse(resp)
	if err != nil {
		s.log.Error("encode response", "error", err)
		if line, err = EncodeResponse(ErrorResponse{Message: err.Error()}); err != nil {
			return err
		}
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	_, err = conn.Write(line)
	return err
}
