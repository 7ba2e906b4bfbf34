// Package task runs the long-lived background loops of a link session.
//
// A Loop repeatedly calls its body until the body returns false or the loop
// is stopped. Stopping is cooperative: Stop raises a flag that the loop
// observes before every iteration, so a body blocked in bounded I/O finishes
// its current call first. Wait joins the loop with a timeout.
package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-qenc/internal/pool"
	"github.com/arloliu/go-qenc/logger"
)

// Func is one iteration of a loop. It returns false to terminate the loop.
type Func func() bool

// Loop is a single background goroutine driven by a Func.
type Loop struct {
	name   string
	logger logger.Logger

	stopped  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newLoop(name string, l logger.Logger) *Loop {
	return &Loop{
		name:   name,
		logger: l,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs fn in a new goroutine until it returns false or Stop is called.
//
// A panic inside fn terminates the loop and is logged.
func Start(name string, l logger.Logger, fn Func) *Loop {
	lp := newLoop(name, l)
	l.Debug("start task", "name", name)

	go func() {
		defer lp.finish()
		defer func() {
			if r := recover(); r != nil {
				lp.logger.Error("panic in task loop", "name", lp.name, "panic", r)
			}
		}()

		for !lp.stopped.Load() {
			if !fn() {
				return
			}
		}
	}()

	return lp
}

// StartInterval calls fn every interval until fn returns false or Stop is called.
//
// A panic inside fn is recovered and logged, and the ticker keeps running.
func StartInterval(name string, l logger.Logger, interval time.Duration, fn Func) (*Loop, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("task: invalid interval %v for %s", interval, name)
	}

	lp := newLoop(name, l)
	l.Debug("start interval task", "name", name, "interval", interval)

	ticker := time.NewTicker(interval)
	go func() {
		defer lp.finish()
		defer ticker.Stop()

		for {
			select {
			case <-lp.quit:
				return
			case <-ticker.C:
				if lp.stopped.Load() {
					return
				}
				if !lp.callWithRecover(fn) {
					return
				}
			}
		}
	}()

	return lp, nil
}

// Name returns the loop name.
func (lp *Loop) Name() string { return lp.name }

// Stop signals the loop to exit. It does not wait; see Wait.
func (lp *Loop) Stop() {
	lp.stopped.Store(true)
	lp.quitOnce.Do(func() { close(lp.quit) })
}

// Stopping reports whether Stop has been called.
func (lp *Loop) Stopping() bool { return lp.stopped.Load() }

// Wait blocks until the loop exits or timeout elapses, and reports whether it exited.
func (lp *Loop) Wait(timeout time.Duration) bool {
	return pool.WaitClosed(lp.done, timeout)
}

func (lp *Loop) finish() {
	close(lp.done)
	lp.logger.Debug(fmt.Sprintf("%s task terminated", lp.name))
}

func (lp *Loop) callWithRecover(fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			lp.logger.Error("panic in task", "name", lp.name, "panic", r)
			cont = true
		}
	}()

	return fn()
}
