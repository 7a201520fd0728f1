// Package engine is the host-facing façade of the compositor.
//
// An Engine owns one device and everything drawn through it: the overlay,
// the texture, Spout and video managers, and the shared frame buffer. Hosts
// fill layer records, then drive BeginFrame, Render, Present and EndFrame,
// either themselves or through the render loop.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/config"
	"github.com/Faultbox/daro-engine/internal/engine/compositor"
	"github.com/Faultbox/daro-engine/internal/engine/gpu"
	"github.com/Faultbox/daro-engine/internal/engine/overlay"
	"github.com/Faultbox/daro-engine/internal/engine/renderer"
	"github.com/Faultbox/daro-engine/internal/engine/software"
	"github.com/Faultbox/daro-engine/internal/engine/spout"
	"github.com/Faultbox/daro-engine/internal/engine/texture"
	"github.com/Faultbox/daro-engine/internal/sharedframe"
	"github.com/Faultbox/daro-engine/internal/video"
	"github.com/Faultbox/daro-engine/pkg/layer"
)

// ErrorCode is the result of Initialize. Its values are part of the C ABI.
type ErrorCode int32

// Initialize results.
const (
	OK ErrorCode = iota
	ErrAlreadyInit
	ErrCreateDevice
	ErrCreateRT
	ErrCreateShaders
	ErrCreateGeometry
	ErrCreateStaging
	ErrCreateFramebuffer
)

func (c ErrorCode) String() string {
	switch c {
	case OK:
		return "ok"
	case ErrAlreadyInit:
		return "already initialized"
	case ErrCreateDevice:
		return "create device"
	case ErrCreateRT:
		return "create render target"
	case ErrCreateShaders:
		return "create shaders"
	case ErrCreateGeometry:
		return "create geometry"
	case ErrCreateStaging:
		return "create staging buffer"
	case ErrCreateFramebuffer:
		return "create frame buffer"
	}
	return fmt.Sprintf("error(%d)", int32(c))
}

// ErrNotInitialized is returned by frame calls before Initialize succeeds.
var ErrNotInitialized = errors.New("engine: not initialized")

// DefaultTotalFrames is the timeline length until SetTotalFrames is called.
const DefaultTotalFrames = 250

// Option configures an Engine at construction.
type Option func(*Engine)

// WithRegisterer registers the engine metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithVideoBackends replaces the default GStreamer and ffmpeg backends.
// With no arguments videos cannot be loaded.
func WithVideoBackends(backends ...video.Backend) Option {
	return func(e *Engine) { e.backends = append([]video.Backend{}, backends...) }
}

// WithClock sets the clock used for frame timing and video playback.
func WithClock(c video.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine is one compositor instance.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	clock    video.Clock
	reg      prometheus.Registerer
	backends []video.Backend
	metrics  *metrics

	// mu guards the lifecycle and every resource below it.
	mu          sync.Mutex
	initialized bool
	lastErr     ErrorCode
	width       int
	height      int
	targetFPS   float64
	dev         gpu.Device
	ov          *overlay.Surface
	comp        *compositor.Compositor
	textures    *texture.Manager
	spout       *spout.Registry
	sender      *spout.Sender
	videos      *video.Manager
	fb          *sharedframe.Writer
	staging     []byte
	stride      int
	lastFrame   time.Time
	drawBuf     []layer.Layer

	// loadMu is held shared by video loads, which run without mu, and
	// exclusively by Shutdown. It is taken before publishMu and mu.
	loadMu sync.RWMutex

	// publishMu serializes Render and is taken before mu. It alone guards
	// fbDropped.
	publishMu sync.Mutex
	fbDropped uint64

	layerMu    sync.Mutex
	layers     [layer.MaxLayers]layer.Layer
	layerCount int

	playing      atomic.Bool
	currentFrame atomic.Int32
	totalFrames  atomic.Int32
	frameNumber  atomic.Int64
	stats        frameStats

	loopMu sync.Mutex
	loop   *Loop
}

// New creates an uninitialized engine. cfg supplies everything Initialize
// does not take as an argument.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:   cfg,
		log:   log.Named("engine"),
		clock: video.SystemClock,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.backends == nil {
		e.backends = defaultBackends(cfg, e.log)
	}
	e.metrics = newMetrics(e.reg)
	e.totalFrames.Store(DefaultTotalFrames)
	return e
}

// Initialize creates the device and every resource for a width x height
// output at fps frames per second. A non-positive fps selects the configured
// rate. On failure the engine stays uninitialized and the code is also
// available from LastError.
func (e *Engine) Initialize(width, height int, fps float64) ErrorCode {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		e.lastErr = ErrAlreadyInit
		return ErrAlreadyInit
	}
	if fps <= 0 {
		fps = e.cfg.Engine.TargetFPS
	}
	code := e.initLocked(width, height, fps)
	e.lastErr = code
	if code != OK {
		e.log.Error("engine initialization failed",
			zap.Int("width", width),
			zap.Int("height", height),
			zap.Stringer("code", code))
		e.releaseLocked()
		return code
	}

	e.ClearLayers()
	e.width, e.height, e.targetFPS = width, height, fps
	e.lastFrame = e.clock.Now()
	e.stats.reset()
	e.fbDropped = 0
	e.initialized = true
	e.log.Info("engine initialized",
		zap.String("device", e.dev.Name()),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Float64("fps", fps),
		zap.String("framebuffer", e.fb.Path()))
	return OK
}

func (e *Engine) initLocked(width, height int, fps float64) ErrorCode {
	if !gpu.ValidSize(width, height) || fps <= 0 {
		return ErrCreateDevice
	}

	dev, code := e.openDevice(width, height)
	if code != OK {
		return code
	}
	e.dev = dev

	e.staging = make([]byte, width*height*4)
	if len(e.staging) == 0 {
		return ErrCreateStaging
	}

	book, err := overlay.NewFontBook(e.cfg.Fonts.Dirs, e.log.Named("fonts"))
	if err != nil {
		e.log.Error("font book", zap.Error(err))
		return ErrCreateRT
	}
	e.ov, err = overlay.New(dev, book, e.log.Named("overlay"))
	if err != nil {
		e.log.Error("overlay", zap.Error(err))
		return ErrCreateRT
	}

	e.textures = texture.NewManager(dev, e.log.Named("texture"))

	e.spout, err = spout.NewRegistry(e.spoutDir(), dev, e.log.Named("spout"))
	if err != nil {
		// Spout is optional: connects fail and the sender list stays empty.
		e.log.Warn("spout registry unavailable", zap.Error(err))
		e.spout = nil
	}

	e.videos = video.NewManager(dev, e.clock, e.log.Named("video"), e.backends...)
	if e.cfg.Video.MaxPlayers > 0 {
		e.videos.SetLimit(e.cfg.Video.MaxPlayers)
	}

	e.comp = compositor.New(dev, e.ov, sources{e}, e.log.Named("compositor"))
	e.comp.SetEdgeSmoothing(e.cfg.Engine.EdgeSmoothing)
	e.comp.SetShowBounds(e.cfg.Engine.ShowBounds)

	e.fb, err = sharedframe.Create(sharedframe.Config{
		Dir:          e.cfg.FrameBuffer.Dir,
		WriteTimeout: e.cfg.FrameBuffer.WriteTimeout,
	}, width, height, e.log)
	if err != nil {
		e.log.Error("frame buffer", zap.Error(err))
		return ErrCreateFramebuffer
	}
	return OK
}

func (e *Engine) openDevice(width, height int) (gpu.Device, ErrorCode) {
	backend := e.cfg.Engine.Backend
	if backend != config.BackendSoftware {
		dev, err := renderer.New(renderer.Config{Width: width, Height: height}, e.log.Named("renderer"))
		if err == nil {
			return dev, OK
		}
		code := rendererCode(err)
		if backend == config.BackendGL {
			e.log.Error("opengl device", zap.Error(err))
			return nil, code
		}
		e.log.Warn("opengl device unavailable, using software rasterizer", zap.Error(err))
	}
	dev, err := software.New(width, height)
	if err != nil {
		e.log.Error("software device", zap.Error(err))
		return nil, ErrCreateDevice
	}
	return dev, OK
}

func rendererCode(err error) ErrorCode {
	switch {
	case errors.Is(err, renderer.ErrTarget):
		return ErrCreateRT
	case errors.Is(err, renderer.ErrShaders):
		return ErrCreateShaders
	case errors.Is(err, renderer.ErrGeometry):
		return ErrCreateGeometry
	}
	return ErrCreateDevice
}

func (e *Engine) spoutDir() string {
	if e.cfg.Spout.Dir != "" {
		return e.cfg.Spout.Dir
	}
	return filepath.Join(sharedframe.DefaultDir(os.TempDir()), "daro-spout")
}

// Shutdown stops the render loop and releases every resource. The engine
// can be initialized again afterwards.
func (e *Engine) Shutdown() {
	e.StopLoop()

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	e.publishMu.Lock()
	defer e.publishMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return
	}
	e.releaseLocked()
	e.initialized = false
	e.playing.Store(false)
	e.log.Info("engine shut down")
}

func (e *Engine) releaseLocked() {
	if e.videos != nil {
		e.videos.Close()
		e.videos = nil
	}
	if e.sender != nil {
		e.sender.Close()
		e.sender = nil
	}
	if e.spout != nil {
		e.spout.Close()
		e.spout = nil
	}
	if e.textures != nil {
		e.textures.Close()
		e.textures = nil
	}
	if e.ov != nil {
		e.ov.Close()
		e.ov = nil
	}
	e.comp = nil
	if e.fb != nil {
		if err := e.fb.Close(); err != nil {
			e.log.Warn("frame buffer close", zap.Error(err))
		}
		e.fb = nil
	}
	if e.dev != nil {
		if err := e.dev.Close(); err != nil {
			e.log.Warn("device close", zap.Error(err))
		}
		e.dev = nil
	}
	e.staging = nil
	e.stride = 0
}

// IsInitialized reports whether Initialize succeeded and Shutdown has not
// run since.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// LastError returns the result of the last Initialize call.
func (e *Engine) LastError() ErrorCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Size returns the output size, or zero before Initialize.
func (e *Engine) Size() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

// TargetFPS returns the frame rate passed to Initialize.
func (e *Engine) TargetFPS() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.targetFPS
}
