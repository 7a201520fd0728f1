package engine

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// ErrLoopRunning is returned by StartLoop while a loop is active.
var ErrLoopRunning = errors.New("engine: render loop already running")

// Loop drives frames at the target rate on one OS thread.
type Loop struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// StartLoop runs BeginFrame, Render, Present and EndFrame at the target
// rate until StopLoop, Shutdown or device loss.
func (e *Engine) StartLoop() error {
	if !e.IsInitialized() {
		return ErrNotInitialized
	}
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.loop != nil {
		select {
		case <-e.loop.done:
		default:
			return ErrLoopRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{cancel: cancel, done: make(chan struct{})}
	e.loop = l
	go func() {
		defer close(l.done)
		l.err = e.Run(ctx)
	}()
	return nil
}

// StopLoop stops the loop and waits for the frame in progress to finish.
// It returns the error that ended the loop, if any.
func (e *Engine) StopLoop() error {
	e.loopMu.Lock()
	l := e.loop
	e.loop = nil
	e.loopMu.Unlock()
	if l == nil {
		return nil
	}
	l.cancel()
	<-l.done
	return l.err
}

// LoopRunning reports whether the render loop is active.
func (e *Engine) LoopRunning() bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.loop == nil {
		return false
	}
	select {
	case <-e.loop.done:
		return false
	default:
		return true
	}
}

// Run drives frames on the calling goroutine until ctx is done. It returns
// nil on cancellation and gpu.ErrDeviceLost when the device goes away.
func (e *Engine) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	fps := e.TargetFPS()
	if fps <= 0 {
		return ErrNotInitialized
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	e.log.Info("render loop started", zap.Float64("fps", fps))
	defer e.log.Info("render loop stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := e.Frame(); err != nil {
			if errors.Is(err, gpu.ErrDeviceLost) || errors.Is(err, ErrNotInitialized) {
				return err
			}
		}
	}
}

// Frame runs one BeginFrame, Render, Present, EndFrame cycle. A failed
// render still ends the frame so pacing stays accurate.
func (e *Engine) Frame() error {
	e.BeginFrame()
	err := e.Render()
	if err == nil {
		e.Present()
	}
	e.EndFrame()
	return err
}
