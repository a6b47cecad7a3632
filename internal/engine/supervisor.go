// Package engine manages the lifecycle of the external analysis-engine
// subprocess: spawn, readiness, health verification, and shutdown. The
// supervisor never restarts the engine on its own; callers re-invoke Start
// after a crash.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// HealthFunc probes the engine's health endpoint once.
type HealthFunc func(ctx context.Context) error

// StartupTimeoutError reports that health verification exhausted its attempts.
type StartupTimeoutError struct {
	Attempts int
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("engine did not become healthy after %d attempts", e.Attempts)
}

type Config struct {
	Command       string        // e.g. "python3 analysis_engine/server.py"
	WorkDir       string        // working directory for the subprocess
	ReadyMarker   string        // stdout line substring signalling readiness
	SettleDelay   time.Duration // fallback wait when the marker never appears
	VerifyTries   int           // health poll attempts, default 10
	VerifyDelay   time.Duration // delay between polls, default 2s
	ShutdownGrace time.Duration // SIGTERM grace before Kill, default 5s
}

func (c *Config) applyDefaults() {
	if c.ReadyMarker == "" {
		c.ReadyMarker = "analysis engine ready"
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.VerifyTries == 0 {
		c.VerifyTries = 10
	}
	if c.VerifyDelay == 0 {
		c.VerifyDelay = 2 * time.Second
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

type Supervisor struct {
	cfg    Config
	health HealthFunc

	mu        sync.Mutex
	cmd       *exec.Cmd
	running   bool // subprocess spawned and not yet exited
	external  bool // engine was already serving health checks, we did not spawn it
	available bool // a successful Verify has happened since the last start/crash
}

func NewSupervisor(cfg Config, health HealthFunc) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{cfg: cfg, health: health}
}

// Available reports whether enhancement calls may be sent to the engine.
// It flips false when the subprocess exits and stays false until a
// successful Verify.
func (s *Supervisor) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Running reports whether a supervised subprocess is alive, or the engine
// is externally managed and was healthy at Start.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running || s.external
}

// Start brings up the engine. If a health probe already succeeds the engine
// is treated as externally managed and no process is spawned. Otherwise the
// configured command is started and Start returns once the readiness marker
// is observed on stdout or the settle delay elapses.
func (s *Supervisor) Start(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := s.health(probeCtx)
	cancel()
	if err == nil {
		log.Print("[engine] already responding to health checks; treating as externally managed")
		s.mu.Lock()
		s.external = true
		s.mu.Unlock()
		return nil
	}

	if strings.TrimSpace(s.cfg.Command) == "" {
		return fmt.Errorf("engine not reachable and no spawn command configured")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	argv := strings.Fields(s.cfg.Command)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.running = true
	s.mu.Unlock()

	ready := make(chan struct{})
	go s.scanOutput(stdout, "stdout", ready)
	go s.scanOutput(stderr, "stderr", nil)

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.running = false
		s.available = false
		s.cmd = nil
		s.mu.Unlock()
		if err != nil {
			log.Printf("[engine] subprocess exited: %v", err)
		} else {
			log.Print("[engine] subprocess exited")
		}
	}()

	// The stdout marker is only a shortcut; the settle delay bounds the wait
	// and Verify is the real readiness check either way.
	select {
	case <-ready:
		log.Print("[engine] readiness marker observed")
	case <-time.After(s.cfg.SettleDelay):
		log.Printf("[engine] no readiness marker after %v; proceeding to verify", s.cfg.SettleDelay)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (s *Supervisor) scanOutput(r io.Reader, name string, ready chan struct{}) {
	scanner := bufio.NewScanner(r)
	signalled := false
	for scanner.Scan() {
		line := scanner.Text()
		log.Printf("[engine %s] %s", name, line)
		if ready != nil && !signalled && strings.Contains(line, s.cfg.ReadyMarker) {
			close(ready)
			signalled = true
		}
	}
}

// Verify polls the health endpoint until it succeeds or the configured
// attempts run out. Only a successful Verify marks the engine available.
func (s *Supervisor) Verify(ctx context.Context) error {
	for attempt := 1; attempt <= s.cfg.VerifyTries; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := s.health(probeCtx)
		cancel()
		if err == nil {
			s.mu.Lock()
			s.available = true
			s.mu.Unlock()
			log.Printf("[engine] verified healthy on attempt %d", attempt)
			return nil
		}

		if attempt < s.cfg.VerifyTries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.VerifyDelay):
			}
		}
	}

	return &StartupTimeoutError{Attempts: s.cfg.VerifyTries}
}

// Shutdown terminates the subprocess: SIGTERM, bounded wait, then Kill.
// It is idempotent and a no-op when nothing was spawned (including the
// externally managed case, which is not ours to stop).
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.available = false
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone.
		return nil
	}

	deadline := time.After(s.cfg.ShutdownGrace)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			log.Printf("[engine] did not exit within %v; killing", s.cfg.ShutdownGrace)
			cmd.Process.Kill()
			return nil
		case <-ctx.Done():
			cmd.Process.Kill()
			return nil
		case <-tick.C:
			s.mu.Lock()
			stillRunning := s.running
			s.mu.Unlock()
			if !stillRunning {
				return nil
			}
		}
	}
}
