// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/ctlbridge/internal/config"
)

// -- Interfaces for Dependency Inversion --

// Handler is run once per tick. It must not block on I/O.
type Handler interface {
	HandleTick(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// HandleTick calls f.
func (f HandlerFunc) HandleTick(ctx context.Context) error { return f(ctx) }

// Chain runs handlers in order and stops at the first error.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context) error {
		for _, h := range handlers {
			if err := h.HandleTick(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats counts what the loop has done so far.
type Stats struct {
	Ticks    uint64
	Errors   uint64
	Overruns uint64
}

// TickLoop drives a Handler at a fixed rate on a single goroutine.
type TickLoop struct {
	interval    time.Duration
	handler     Handler
	logger      *zap.Logger
	overrunWarn bool

	running  atomic.Bool
	ticks    atomic.Uint64
	errs     atomic.Uint64
	overruns atomic.Uint64

	errorLog   rate.Sometimes
	overrunLog rate.Sometimes
}

// New creates a TickLoop for handler.
func New(cfg config.EngineConfig, handler Handler, logger *zap.Logger) (*TickLoop, error) {
	if handler == nil {
		return nil, errors.New("tick handler cannot be nil")
	}
	interval := cfg.TickInterval()
	if interval <= 0 {
		return nil, errors.New("engine.tick_rate must be a positive integer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := cfg.WarnInterval
	if warn <= 0 {
		warn = time.Second
	}
	return &TickLoop{
		interval:    interval,
		handler:     handler,
		logger:      logger.With(zap.String("component", "tick_loop")),
		overrunWarn: cfg.OverrunWarn,
		errorLog:    rate.Sometimes{Interval: warn},
		overrunLog:  rate.Sometimes{Interval: warn},
	}, nil
}

// Interval is the period between ticks.
func (l *TickLoop) Interval() time.Duration { return l.interval }

// Run ticks until ctx is cancelled. Handler errors are logged and the loop
// keeps going. A cancelled context is a clean stop and returns nil.
func (l *TickLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("tick loop is already running")
	}
	defer l.running.Store(false)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("Tick loop started.", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Tick loop stopped.", zap.Uint64("ticks", l.ticks.Load()))
			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *TickLoop) tick(ctx context.Context) {
	start := time.Now()
	err := l.handler.HandleTick(ctx)
	elapsed := time.Since(start)
	l.ticks.Add(1)

	if err != nil && ctx.Err() == nil {
		l.errs.Add(1)
		l.errorLog.Do(func() {
			l.logger.Warn("Tick handler failed.", zap.Error(err))
		})
	}
	if elapsed > l.interval {
		l.overruns.Add(1)
		if l.overrunWarn {
			l.overrunLog.Do(func() {
				l.logger.Warn("Tick overran its interval.",
					zap.Duration("elapsed", elapsed), zap.Duration("interval", l.interval))
			})
		}
	}
}

// Stats returns the loop counters.
func (l *TickLoop) Stats() Stats {
	return Stats{Ticks: l.ticks.Load(), Errors: l.errs.Load(), Overruns: l.overruns.Load()}
}
