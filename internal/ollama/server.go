// Package ollama probes and manages a local model server process.
package ollama

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBinary is the executable started by Start.
	DefaultBinary = "ollama"

	probeTimeout = time.Second
	pollInterval = 500 * time.Millisecond
	stopTimeout  = 5 * time.Second
)

// Server controls a model server reachable at a base URL.
type Server struct {
	baseURL string
	binary  string
	client  *http.Client
	logger  *zap.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewServer returns a controller for the server at baseURL. An empty
// binary means DefaultBinary; a nil logger discards output.
func NewServer(baseURL, binary string, logger *zap.Logger) *Server {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		baseURL: baseURL,
		binary:  binary,
		client:  &http.Client{Timeout: probeTimeout},
		logger:  logger,
	}
}

// IsRunning reports whether a GET of the base URL answers 200.
func (s *Server) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Start returns true at once if the server already answers. Otherwise it
// spawns "<binary> serve" and polls until the server answers or timeout
// elapses.
func (s *Server) Start(ctx context.Context, timeout time.Duration) bool {
	if s.IsRunning(ctx) {
		return true
	}

	s.mu.Lock()
	if s.cmd == nil {
		cmd := exec.Command(s.binary, "serve")
		if err := cmd.Start(); err != nil {
			s.mu.Unlock()
			s.logger.Error("failed to start model server", zap.String("binary", s.binary), zap.Error(err))
			return false
		}
		s.cmd = cmd
		s.logger.Info("model server spawned", zap.Int("pid", cmd.Process.Pid))
	}
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			s.logger.Warn("model server did not become ready", zap.Duration("timeout", timeout))
			return false
		case <-ticker.C:
			if s.IsRunning(ctx) {
				return true
			}
		}
	}
}

// Stop interrupts a server spawned by Start, waits up to five seconds and
// then kills it. It does nothing if Start never spawned a process.
func (s *Server) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("model server ignored interrupt, killing")
		_ = cmd.Process.Kill()
		<-done
	}
}
