package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// Info describes a loaded video.
type Info struct {
	Path        string
	Backend     string
	Width       int
	Height      int
	FrameRate   float64
	Duration    time.Duration
	TotalFrames int
	Format      PixelFormat
}

// Player decodes one video into a texture.
type Player struct {
	backends []Backend
	dev      TextureCreator
	clock    Clock
	log      *zap.Logger

	mu      sync.Mutex
	state   State
	path    string
	backend string
	probe   Probe
	dec     Decoder
	tex     gpu.Texture

	playing    bool
	loop       bool
	eos        bool
	videoAlpha bool

	current  int
	total    int
	fps      float64
	frameDur float64
	acc      float64
	last     time.Time
}

// NewPlayer creates a player that tries backends in order.
func NewPlayer(dev TextureCreator, clock Clock, log *zap.Logger, backends ...Backend) *Player {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{backends: backends, dev: dev, clock: clock, log: log}
}

// Load opens path with the first backend that can handle it, decodes the
// first frame and starts looping playback.
func (p *Player) Load(ctx context.Context, path string) error {
	if strings.Contains(path, "..") {
		return ErrPathTraversal
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Size() > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, st.Size())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloadLocked()
	p.path = path

	var lastErr error
	for _, b := range p.backends {
		if !b.Available() {
			continue
		}
		err := p.openWith(ctx, b, path)
		if err == nil {
			p.state = StateOpened
			p.log.Info("video loaded",
				zap.String("path", path),
				zap.String("backend", b.Name()),
				zap.Int("width", p.probe.Width),
				zap.Int("height", p.probe.Height),
				zap.Float64("fps", p.fps),
				zap.Int("frames", p.total),
				zap.Stringer("format", p.probe.Format),
				zap.Bool("alpha_fix", p.probe.NeedsAlphaFix))
			return nil
		}
		p.log.Debug("video backend failed",
			zap.String("path", path),
			zap.String("backend", b.Name()),
			zap.Error(err))
		lastErr = err
		if errors.Is(err, ErrResolution) {
			break
		}
	}
	p.state = StateFailed
	if lastErr == nil {
		return ErrNoBackend
	}
	if errors.Is(lastErr, ErrResolution) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", ErrNoBackend, lastErr)
}

func (p *Player) openWith(ctx context.Context, b Backend, path string) error {
	pr, err := b.Probe(ctx, path)
	if err != nil {
		return err
	}
	if pr.Width <= 0 || pr.Height <= 0 || pr.Width > MaxDimension || pr.Height > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrResolution, pr.Width, pr.Height)
	}
	fps := pr.FrameRate
	if fps <= 0 {
		fps = DefaultFPS
	}
	total := pr.TotalFrames
	if total <= 0 && pr.Duration > 0 {
		total = int(pr.Duration.Seconds() * fps)
	}

	dec, err := b.Open(ctx, path, pr)
	if err != nil {
		return err
	}
	tex, err := p.dev.CreateTexture(pr.Width, pr.Height)
	if err != nil {
		_ = dec.Close()
		return fmt.Errorf("video texture: %w", err)
	}

	p.backend = b.Name()
	p.probe = pr
	p.dec = dec
	p.tex = tex
	p.fps = fps
	p.frameDur = 1 / fps
	p.total = total
	p.current = 0
	p.eos = false
	p.acc = 0

	if err := p.decodeOne(); err != nil && !errors.Is(err, io.EOF) {
		p.log.Debug("first video frame failed", zap.Error(err))
	}
	p.playing = true
	p.loop = true
	p.last = p.clock.Now()
	return nil
}

// Unload closes the decoder and releases the texture.
func (p *Player) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloadLocked()
}

func (p *Player) unloadLocked() {
	if p.dec != nil {
		_ = p.dec.Close()
		p.dec = nil
	}
	if p.tex != nil {
		p.tex.Release()
		p.tex = nil
	}
	p.state = StateUnopened
	p.playing, p.eos = false, false
	p.current, p.total = 0, 0
	p.acc = 0
}

func (p *Player) loaded() bool { return p.state == StateOpened && p.dec != nil }

// Play resumes playback from the current frame.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded() {
		return
	}
	p.playing = true
	p.acc = 0
	p.last = p.clock.Now()
}

// Pause halts playback, keeping the current frame.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// Stop halts playback and shows the first frame.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	if !p.loaded() {
		return
	}
	p.seekLocked(0)
}

// SeekToFrame shows frame, clamped to the video length.
func (p *Player) SeekToFrame(frame int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded() {
		return
	}
	p.seekLocked(frame)
}

// SeekToTime shows the frame at seconds.
func (p *Player) SeekToTime(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded() || p.fps <= 0 {
		return
	}
	p.seekLocked(int(seconds * p.fps))
}

func (p *Player) seekLocked(frame int) {
	frame = max(0, min(frame, max(p.total-1, 0)))
	if err := p.dec.Seek(frame); err != nil {
		p.log.Debug("video seek failed", zap.Int("frame", frame), zap.Error(err))
		return
	}
	if err := p.decodeOne(); err != nil && !errors.Is(err, io.EOF) {
		p.log.Debug("video decode after seek failed", zap.Error(err))
	}
	p.current = frame
	p.eos = false
}

// Update advances playback by the wall time since the last tick. It
// reports whether a new frame was uploaded.
func (p *Player) Update() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded() || !p.playing {
		return false
	}
	now := p.clock.Now()
	p.acc += now.Sub(p.last).Seconds()
	p.last = now

	decoded := false
	for p.acc >= p.frameDur && !p.eos {
		p.acc -= p.frameDur
		err := p.decodeOne()
		if err == nil {
			p.current++
			decoded = true
			continue
		}
		if !errors.Is(err, io.EOF) {
			p.log.Debug("video decode failed", zap.String("path", p.path), zap.Error(err))
			break
		}
		p.eos = true
		if p.loop {
			p.seekLocked(0)
			p.playing = true
			decoded = true
		} else {
			p.playing = false
		}
		break
	}
	return decoded
}

// decodeOne pulls a frame and uploads it.
func (p *Player) decodeOne() error {
	f, err := p.dec.Next()
	if err != nil {
		return err
	}
	return p.upload(f)
}

// upload copies a frame row by row into the texture, forcing alpha opaque
// when the stream has none and passthrough is off.
func (p *Player) upload(f Frame) error {
	dst, stride, err := p.tex.Map()
	if err != nil {
		return err
	}
	defer p.tex.Unmap()

	tw, th := p.tex.Size()
	row := min(f.Width, tw) * 4
	rows := min(f.Height, th)
	fix := p.probe.NeedsAlphaFix && !p.videoAlpha
	for y := 0; y < rows; y++ {
		off := y * f.Stride
		if len(f.Data) < off+row {
			return io.ErrUnexpectedEOF
		}
		d := dst[y*stride : y*stride+row]
		copy(d, f.Data[off:off+row])
		if fix {
			for x := 3; x < row; x += 4 {
				d[x] = 0xFF
			}
		}
	}
	return nil
}

// State returns the backend selection state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Texture returns the frame texture, or nil before a successful load.
func (p *Player) Texture() gpu.Texture {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tex == nil {
		return nil
	}
	return p.tex
}

// IsPlaying reports whether playback is running.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// CurrentFrame returns the index of the frame on the texture.
func (p *Player) CurrentFrame() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// TotalFrames returns the estimated frame count.
func (p *Player) TotalFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// SetLoop sets whether playback restarts at the end.
func (p *Player) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = loop
}

// SetVideoAlpha passes decoded alpha through instead of forcing it opaque.
func (p *Player) SetVideoAlpha(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videoAlpha = on
}

// Info describes the loaded video.
func (p *Player) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{
		Path:        p.path,
		Backend:     p.backend,
		Width:       p.probe.Width,
		Height:      p.probe.Height,
		FrameRate:   p.fps,
		Duration:    p.probe.Duration,
		TotalFrames: p.total,
		Format:      p.probe.Format,
	}
}
