package video

import (
	"context"
	gomath "math"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// Manager indexes players by handle and advances them once per tick.
type Manager struct {
	dev      TextureCreator
	clock    Clock
	log      *zap.Logger
	backends []Backend

	mu      sync.Mutex
	players map[int32]*Player
	nextID  int32
	limit   int
}

// NewManager creates a manager whose players try backends in order.
func NewManager(dev TextureCreator, clock Clock, log *zap.Logger, backends ...Backend) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dev:      dev,
		clock:    clock,
		log:      log,
		backends: backends,
		players:  make(map[int32]*Player),
		nextID:   1,
		limit:    MaxPlayers,
	}
}

// SetLimit caps the number of loaded videos to n, clamped to
// [1, MaxPlayers]. Loaded players above the cap stay loaded.
func (m *Manager) SetLimit(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = min(max(n, 1), MaxPlayers)
}

// Load opens a video and returns its handle, or InvalidHandle.
func (m *Manager) Load(ctx context.Context, path string) int32 {
	m.mu.Lock()
	full := len(m.players) >= m.limit
	m.mu.Unlock()
	if full {
		m.log.Warn("video load rejected", zap.String("path", path), zap.Error(ErrTooMany))
		return InvalidHandle
	}

	p := NewPlayer(m.dev, m.clock, m.log, m.backends...)
	if err := p.Load(ctx, path); err != nil {
		m.log.Warn("video load failed", zap.String("path", path), zap.Error(err))
		return InvalidHandle
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.players) >= m.limit {
		p.Unload()
		return InvalidHandle
	}
	id := m.allocID()
	m.players[id] = p
	return id
}

func (m *Manager) allocID() int32 {
	for {
		id := m.nextID
		if m.nextID == gomath.MaxInt32 {
			m.nextID = 1
		} else {
			m.nextID++
		}
		if _, used := m.players[id]; !used {
			return id
		}
	}
}

// Unload closes a player. It reports whether the handle existed.
func (m *Manager) Unload(id int32) bool {
	m.mu.Lock()
	p, ok := m.players[id]
	delete(m.players, id)
	m.mu.Unlock()
	if ok {
		p.Unload()
	}
	return ok
}

// Player returns the player for id, or nil.
func (m *Manager) Player(id int32) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.players[id]
}

// Texture returns the frame texture for id, or nil.
func (m *Manager) Texture(id int32) gpu.Texture {
	if p := m.Player(id); p != nil {
		return p.Texture()
	}
	return nil
}

// Count returns the number of loaded videos.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}

// UpdateAll advances every player. Call it once per tick, before the
// frame is composited.
func (m *Manager) UpdateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players {
		p.Update()
	}
}

// Close unloads every player.
func (m *Manager) Close() {
	m.mu.Lock()
	players := m.players
	m.players = make(map[int32]*Player)
	m.mu.Unlock()
	for _, p := range players {
		p.Unload()
	}
}

func (m *Manager) with(id int32, f func(*Player)) {
	if p := m.Player(id); p != nil {
		f(p)
	}
}

// Play resumes a video.
func (m *Manager) Play(id int32) { m.with(id, (*Player).Play) }

// Pause pauses a video.
func (m *Manager) Pause(id int32) { m.with(id, (*Player).Pause) }

// Stop stops a video and rewinds it.
func (m *Manager) Stop(id int32) { m.with(id, (*Player).Stop) }

// Seek shows a frame of a video.
func (m *Manager) Seek(id int32, frame int) {
	m.with(id, func(p *Player) { p.SeekToFrame(frame) })
}

// SeekTime shows the frame at seconds.
func (m *Manager) SeekTime(id int32, seconds float64) {
	m.with(id, func(p *Player) { p.SeekToTime(seconds) })
}

// IsPlaying reports whether a video is playing.
func (m *Manager) IsPlaying(id int32) bool {
	if p := m.Player(id); p != nil {
		return p.IsPlaying()
	}
	return false
}

// Frame returns a video's current frame, or 0 for an unknown handle.
func (m *Manager) Frame(id int32) int {
	if p := m.Player(id); p != nil {
		return p.CurrentFrame()
	}
	return 0
}

// Total returns a video's frame count, or 0 for an unknown handle.
func (m *Manager) Total(id int32) int {
	if p := m.Player(id); p != nil {
		return p.TotalFrames()
	}
	return 0
}

// SetLoop sets whether a video loops.
func (m *Manager) SetLoop(id int32, loop bool) {
	m.with(id, func(p *Player) { p.SetLoop(loop) })
}

// SetAlpha sets alpha passthrough for a video.
func (m *Manager) SetAlpha(id int32, on bool) {
	m.with(id, func(p *Player) { p.SetVideoAlpha(on) })
}
