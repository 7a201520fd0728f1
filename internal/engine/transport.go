package engine

// The timeline transport is advisory state for the host: the engine stores
// it but does not advance it.

// Play starts the timeline.
func (e *Engine) Play() { e.playing.Store(true) }

// Stop halts the timeline. The current frame is kept.
func (e *Engine) Stop() { e.playing.Store(false) }

// IsPlaying reports whether the timeline is running.
func (e *Engine) IsPlaying() bool { return e.playing.Load() }

// CurrentFrame returns the timeline position.
func (e *Engine) CurrentFrame() int { return int(e.currentFrame.Load()) }

// TotalFrames returns the timeline length.
func (e *Engine) TotalFrames() int { return int(e.totalFrames.Load()) }

// SetTotalFrames sets the timeline length. Non-positive values are ignored.
func (e *Engine) SetTotalFrames(n int) {
	if n > 0 {
		e.totalFrames.Store(int32(n))
	}
}

// SeekToFrame moves the timeline to frame, clamped to [0, total-1]. It is
// ignored before Initialize.
func (e *Engine) SeekToFrame(frame int) {
	if !e.IsInitialized() {
		return
	}
	total := int(e.totalFrames.Load())
	if total <= 0 {
		return
	}
	e.currentFrame.Store(int32(min(max(frame, 0), total-1)))
}

// SeekToTime moves the timeline to the frame shown at seconds.
func (e *Engine) SeekToTime(seconds float64) {
	e.SeekToFrame(int(seconds * e.TargetFPS()))
}
