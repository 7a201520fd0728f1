package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
	"github.com/Faultbox/daro-engine/internal/engine/spout"
	"github.com/Faultbox/daro-engine/internal/engine/texture"
	"github.com/Faultbox/daro-engine/internal/video"
)

// sources resolves layer handles for the compositor. It runs with e.mu
// held and relies on the managers' own locks.
type sources struct{ e *Engine }

// Each lookup returns an untyped nil so the compositor's nil check holds.

func (s sources) ImageTexture(id int32) gpu.Texture {
	if s.e.textures == nil {
		return nil
	}
	if t := s.e.textures.Get(id); t != nil {
		return t
	}
	return nil
}

func (s sources) VideoTexture(id int32) gpu.Texture {
	if s.e.videos == nil {
		return nil
	}
	if t := s.e.videos.Texture(id); t != nil {
		return t
	}
	return nil
}

func (s sources) SpoutTexture(id int32) gpu.Texture {
	if s.e.spout == nil {
		return nil
	}
	if t := s.e.spout.Texture(id); t != nil {
		return t
	}
	return nil
}

// LoadTexture decodes an image file and returns its handle, or -1.
func (e *Engine) LoadTexture(path string) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return texture.InvalidID
	}
	return e.textures.Load(path)
}

// UnloadTexture releases a texture handle.
func (e *Engine) UnloadTexture(id int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		e.textures.Unload(id)
	}
}

// SpoutSenderCount returns the number of live Spout senders.
func (e *Engine) SpoutSenderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.spout == nil {
		return 0
	}
	return e.spout.SenderCount()
}

// SpoutSenderName returns the i-th live sender in name order.
func (e *Engine) SpoutSenderName(i int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.spout == nil {
		return "", false
	}
	return e.spout.SenderName(i)
}

// ConnectSpoutReceiver creates a receiver for the named sender and returns
// its id, or -1.
func (e *Engine) ConnectSpoutReceiver(name string) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.spout == nil {
		return spout.InvalidID
	}
	return e.spout.Connect(name)
}

// DisconnectSpoutReceiver releases a receiver.
func (e *Engine) DisconnectSpoutReceiver(id int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized && e.spout != nil {
		e.spout.Disconnect(id)
	}
}

// EnableSpoutOutput registers a sender publishing every presented frame.
// An empty name uses the configured sender name. It reports true when
// output is already enabled.
func (e *Engine) EnableSpoutOutput(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return false
	}
	if e.sender != nil {
		return true
	}
	if name == "" {
		name = e.cfg.Spout.SenderName
	}
	s, err := spout.NewSender(e.spoutDir(), name, e.log.Named("spout"))
	if err != nil {
		e.log.Warn("spout output unavailable", zap.String("sender", name), zap.Error(err))
		return false
	}
	e.sender = s
	return true
}

// DisableSpoutOutput unregisters the sender.
func (e *Engine) DisableSpoutOutput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sender != nil {
		e.sender.Close()
		e.sender = nil
	}
}

// IsSpoutEnabled reports whether frames are published to a sender.
func (e *Engine) IsSpoutEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sender != nil
}

// LoadVideo opens a video and returns its handle, or 0. Shutdown waits for
// loads in flight.
func (e *Engine) LoadVideo(path string) int32 {
	e.loadMu.RLock()
	defer e.loadMu.RUnlock()
	e.mu.Lock()
	videos := e.videos
	ok := e.initialized
	e.mu.Unlock()
	if !ok {
		return video.InvalidHandle
	}
	// Probing may take a while; it runs without the engine lock and the
	// manager serializes itself.
	return videos.Load(context.Background(), path)
}

// withVideos runs f with the video manager while the engine is initialized.
func (e *Engine) withVideos(f func(*video.Manager)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		f(e.videos)
	}
}

// UnloadVideo releases a video handle.
func (e *Engine) UnloadVideo(id int32) {
	e.withVideos(func(m *video.Manager) { m.Unload(id) })
}

// PlayVideo resumes a video.
func (e *Engine) PlayVideo(id int32) {
	e.withVideos(func(m *video.Manager) { m.Play(id) })
}

// PauseVideo pauses a video.
func (e *Engine) PauseVideo(id int32) {
	e.withVideos(func(m *video.Manager) { m.Pause(id) })
}

// StopVideo stops a video and rewinds it.
func (e *Engine) StopVideo(id int32) {
	e.withVideos(func(m *video.Manager) { m.Stop(id) })
}

// SeekVideo shows frame of a video.
func (e *Engine) SeekVideo(id int32, frame int) {
	e.withVideos(func(m *video.Manager) { m.Seek(id, frame) })
}

// SeekVideoTime shows the frame of a video at seconds.
func (e *Engine) SeekVideoTime(id int32, seconds float64) {
	e.withVideos(func(m *video.Manager) { m.SeekTime(id, seconds) })
}

// IsVideoPlaying reports whether a video is playing.
func (e *Engine) IsVideoPlaying(id int32) (playing bool) {
	e.withVideos(func(m *video.Manager) { playing = m.IsPlaying(id) })
	return playing
}

// VideoFrame returns a video's current frame.
func (e *Engine) VideoFrame(id int32) (frame int) {
	e.withVideos(func(m *video.Manager) { frame = m.Frame(id) })
	return frame
}

// VideoTotalFrames returns a video's frame count.
func (e *Engine) VideoTotalFrames(id int32) (total int) {
	e.withVideos(func(m *video.Manager) { total = m.Total(id) })
	return total
}

// SetVideoLoop sets whether a video restarts at its end.
func (e *Engine) SetVideoLoop(id int32, loop bool) {
	e.withVideos(func(m *video.Manager) { m.SetLoop(id, loop) })
}

// SetVideoAlpha sets whether a video's alpha channel is kept.
func (e *Engine) SetVideoAlpha(id int32, on bool) {
	e.withVideos(func(m *video.Manager) { m.SetAlpha(id, on) })
}
