package engine

import (
	gomath "math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/compositor"
	"github.com/Faultbox/daro-engine/internal/sharedframe"
)

// Stats describes frame pacing as measured by EndFrame.
type Stats struct {
	FPS           float64
	FrameTimeMs   float64
	DroppedFrames int64
}

type frameStats struct {
	fps       atomic.Uint64 // float64 bits
	frameTime atomic.Uint64 // float64 bits, milliseconds
	dropped   atomic.Int64
}

func (s *frameStats) reset() {
	s.fps.Store(0)
	s.frameTime.Store(0)
	s.dropped.Store(0)
}

// BeginFrame resets device state and pulls new Spout and video frames.
func (e *Engine) BeginFrame() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return
	}
	e.dev.Begin()
	if e.spout != nil {
		e.spout.Update()
	}
	e.videos.UpdateAll()
}

// Render composites the current layers and publishes the result to the
// frame buffer under the current frame number. The frame buffer wait runs
// without the engine lock, so UnlockFrameBuffer can wake it.
func (e *Engine) Render() error {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}

	e.layerMu.Lock()
	e.drawBuf = append(e.drawBuf[:0], e.layers[:e.layerCount]...)
	e.layerMu.Unlock()

	start := time.Now()
	if err := e.comp.Render(e.drawBuf); err != nil {
		e.mu.Unlock()
		e.log.Warn("render failed", zap.Error(err))
		return err
	}
	stride, err := e.dev.ReadPixels(e.staging)
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("readback failed", zap.Error(err))
		return err
	}
	e.stride = stride
	e.metrics.layers.Set(float64(e.comp.Drawn()))
	e.metrics.textures.Set(float64(e.textures.Count()))
	e.metrics.videos.Set(float64(e.videos.Count()))
	// publishMu keeps fb and staging alive until the write returns:
	// Shutdown takes it before releasing them.
	fb, staging := e.fb, e.staging
	e.mu.Unlock()

	fb.Write(staging, stride, e.frameNumber.Load())
	if d := fb.Dropped(); d > e.fbDropped {
		e.metrics.writerDrops.Add(float64(d - e.fbDropped))
		e.fbDropped = d
	}
	e.metrics.rendered.Inc()
	e.metrics.renderTime.Observe(time.Since(start).Seconds())
	return nil
}

// Present publishes the last rendered frame to the Spout sender, when
// output is enabled.
func (e *Engine) Present() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.sender == nil || e.stride == 0 {
		return
	}
	if err := e.sender.Send(e.staging, e.stride, e.width, e.height); err != nil {
		e.log.Warn("spout send failed", zap.String("sender", e.sender.Name()), zap.Error(err))
	}
}

// EndFrame measures the time since the previous EndFrame, counts missed
// frames and advances the frame number.
func (e *Engine) EndFrame() {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	elapsed := now.Sub(e.lastFrame).Seconds()
	e.lastFrame = now
	target := 0.0
	if e.targetFPS > 0 {
		target = 1 / e.targetFPS
	}
	e.mu.Unlock()

	e.stats.frameTime.Store(gomath.Float64bits(elapsed * 1000))
	if elapsed > 1e-6 {
		fps := 1 / elapsed
		e.stats.fps.Store(gomath.Float64bits(fps))
		e.metrics.fps.Set(fps)
	}
	e.metrics.frameTime.Observe(elapsed)
	if target > 0 && elapsed > target*1.5 {
		if missed := int64(elapsed/target) - 1; missed > 0 {
			e.stats.dropped.Add(missed)
			e.metrics.missed.Add(float64(missed))
		}
	}
	e.frameNumber.Add(1)
}

// Stats returns the pacing measured by the last EndFrame.
func (e *Engine) Stats() Stats {
	return Stats{
		FPS:           gomath.Float64frombits(e.stats.fps.Load()),
		FrameTimeMs:   gomath.Float64frombits(e.stats.frameTime.Load()),
		DroppedFrames: e.stats.dropped.Load(),
	}
}

// FrameNumber returns the number the next rendered frame is published under.
func (e *Engine) FrameNumber() int64 { return e.frameNumber.Load() }

// SetShowBounds toggles the layer bounds and mask preview.
func (e *Engine) SetShowBounds(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Engine.ShowBounds = on
	if e.comp != nil {
		e.comp.SetShowBounds(on)
	}
}

// SetEdgeSmoothing sets the quad edge falloff in pixels, clamped to
// [0, 10].
func (e *Engine) SetEdgeSmoothing(px float32) {
	px = min(max(px, 0), compositor.MaxEdgeSmoothing)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Engine.EdgeSmoothing = px
	if e.comp != nil {
		e.comp.SetEdgeSmoothing(px)
	}
}

// EdgeSmoothing returns the quad edge falloff.
func (e *Engine) EdgeSmoothing() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Engine.EdgeSmoothing
}

// IsDeviceLost reports whether the device can no longer render.
func (e *Engine) IsDeviceLost() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev != nil && e.dev.Lost()
}

// LockFrameBuffer pins the shared frame for reading in place. Renders wait
// up to the write timeout and then drop their frame until it is unlocked.
func (e *Engine) LockFrameBuffer() (sharedframe.Frame, bool) {
	e.mu.Lock()
	fb := e.fb
	e.mu.Unlock()
	if fb == nil {
		return sharedframe.Frame{}, false
	}
	return fb.Lock()
}

// UnlockFrameBuffer releases LockFrameBuffer.
func (e *Engine) UnlockFrameBuffer() {
	e.mu.Lock()
	fb := e.fb
	e.mu.Unlock()
	if fb != nil {
		fb.Unlock()
	}
}

// FrameBufferPath returns the shared region path, or "" before Initialize.
func (e *Engine) FrameBufferPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fb == nil {
		return ""
	}
	return e.fb.Path()
}
