package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Runnable is a long-running component of the roller daemon. Run blocks
// until the component stops or fails; Shutdown asks it to stop and
// returns once in-flight work has drained.
type Runnable interface {
	Run() error
	Shutdown()
}

// Supervisor runs a group of Runnables and shuts them down on SIGINT,
// SIGTERM, context cancellation, or the first component failure.
// Components shut down in reverse registration order.
type Supervisor struct {
	logger *zap.Logger
	parts  []supervised
}

type supervised struct {
	name string
	r    Runnable
}

// NewSupervisor creates an empty Supervisor.
//
// Precondition: logger must be non-nil.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		panic("server: NewSupervisor precondition violated: logger must be non-nil")
	}
	return &Supervisor{logger: logger}
}

// Register adds a named component. Registration order is startup order.
//
// Precondition: all Register calls happen before Serve.
func (s *Supervisor) Register(name string, r Runnable) {
	s.parts = append(s.parts, supervised{name: name, r: r})
}

// Serve starts every registered component and blocks until a
// termination signal arrives, the context is cancelled, or a component
// fails. It returns the failing component's error, or nil on a clean
// signal- or context-driven shutdown.
//
// Postcondition: every component's Shutdown has returned.
func (s *Supervisor) Serve(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, len(s.parts))
	for _, p := range s.parts {
		go func(p supervised) {
			s.logger.Info("component starting", zap.String("component", p.name))
			if err := p.r.Run(); err != nil {
				s.logger.Error("component failed",
					zap.String("component", p.name),
					zap.Error(err),
				)
				failed <- fmt.Errorf("component %s: %w", p.name, err)
				cancel()
			}
		}(p)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		s.logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
	case runErr = <-failed:
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
		select {
		case runErr = <-failed:
		default:
		}
	}

	stopStart := time.Now()
	for i := len(s.parts) - 1; i >= 0; i-- {
		p := s.parts[i]
		p.r.Shutdown()
		s.logger.Info("component stopped", zap.String("component", p.name))
	}
	s.logger.Info("shutdown complete",
		zap.Duration("stop_elapsed", time.Since(stopStart)),
		zap.Duration("uptime", time.Since(start)),
	)
	return runErr
}
