// Package server serves a single parsed transcript over local HTTP. Each
// share gets its own listener on an ephemeral loopback port, which a tunnel
// then exposes.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sonnes/cgshare/core"
	"github.com/sonnes/cgshare/logger"
	"github.com/sonnes/cgshare/render"
	htmlrender "github.com/sonnes/cgshare/render/html"
	jsonrender "github.com/sonnes/cgshare/render/json"
)

// Server turns transcripts into running HTTP instances.
type Server struct {
	// Host is the address instances bind to. Defaults to 127.0.0.1.
	Host string

	html render.Renderer
	json render.Renderer
	log  *log.Logger
}

// New returns a Server rendering pages with the HTML renderer.
func New() *Server {
	return &Server{
		Host: "127.0.0.1",
		html: htmlrender.New(),
		json: &jsonrender.Renderer{Indent: true},
		log:  logger.WithComponent("server"),
	}
}

// Serve renders t and starts an instance on an ephemeral port.
func (s *Server) Serve(t *core.Transcript) (*Instance, error) {
	return s.ServeOn(t, 0)
}

// ServeOn renders t and starts an instance on port. Rendering happens once,
// up front, so a transcript that cannot be rendered never gets a listener.
func (s *Server) ServeOn(t *core.Transcript, port int) (*Instance, error) {
	var page, doc bytes.Buffer
	if err := s.html.Render(&page, t); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	if err := s.json.Render(&doc, t); err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", static("text/html; charset=utf-8", page.Bytes()))
	mux.HandleFunc("GET /transcript.json", static("application/json", doc.Bytes()))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	inst := &Instance{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		port: ln.Addr().(*net.TCPAddr).Port,
		done: make(chan struct{}),
	}

	go func() {
		defer close(inst.done)
		if err := inst.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve", "port", inst.port, "error", err)
			inst.err = err
		}
	}()

	s.log.Debug("serving transcript", "session_id", t.SessionID, "port", inst.port)
	return inst, nil
}

func static(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Robots-Tag", "noindex")
		_, _ = w.Write(body)
	}
}

// Instance is one running listener.
type Instance struct {
	srv  *http.Server
	port int
	done chan struct{}
	err  error

	stopOnce sync.Once
	stopErr  error
}

// Port returns the bound TCP port.
func (i *Instance) Port() int { return i.port }

// Stop gracefully shuts the listener down. Calling it again returns the
// first result.
func (i *Instance) Stop(ctx context.Context) error {
	i.stopOnce.Do(func() {
		i.stopErr = i.srv.Shutdown(ctx)
		<-i.done
	})
	return i.stopErr
}

// Wait blocks until the instance stops and returns its serve error, if any.
func (i *Instance) Wait() error {
	<-i.done
	return i.err
}
