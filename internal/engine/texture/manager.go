// Package texture loads image files into device textures.
//
// Decoding goes through the image package registry: png, jpeg and gif from
// the standard library, bmp, tiff and webp from x/image, then TGA.
package texture

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	gomath "math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// MaxDimension is the largest accepted image edge.
const MaxDimension = 8192

// InvalidID is returned by Load on failure.
const InvalidID int32 = -1

var (
	ErrEmptyPath     = errors.New("texture: empty path")
	ErrPathTraversal = errors.New("texture: path contains '..'")
	ErrDimensions    = errors.New("texture: dimensions out of range")
)

// Creator allocates device textures.
type Creator interface {
	CreateTexture(width, height int) (gpu.Texture, error)
}

type entry struct {
	path string
	tex  gpu.Texture
}

// Manager owns loaded textures and hands out integer handles.
type Manager struct {
	dev Creator
	log *zap.Logger

	mu     sync.Mutex
	byID   map[int32]*entry
	byPath map[string]int32
	nextID int32
}

// NewManager creates an empty manager.
func NewManager(dev Creator, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dev:    dev,
		log:    log,
		byID:   make(map[int32]*entry),
		byPath: make(map[string]int32),
		nextID: 1,
	}
}

// Load decodes the file and returns its handle, or InvalidID. Loading the
// same path again returns the existing handle.
func (m *Manager) Load(path string) int32 {
	id, err := m.load(path)
	if err != nil {
		m.log.Warn("texture load failed", zap.String("path", path), zap.Error(err))
		return InvalidID
	}
	return id
}

func (m *Manager) load(path string) (int32, error) {
	if path == "" {
		return InvalidID, ErrEmptyPath
	}
	if strings.Contains(path, "..") {
		return InvalidID, ErrPathTraversal
	}
	key := filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPath[key]; ok {
		return id, nil
	}

	pix, w, h, err := decodeFile(key)
	if err != nil {
		return InvalidID, err
	}
	tex, err := m.dev.CreateTexture(w, h)
	if err != nil {
		return InvalidID, fmt.Errorf("create texture: %w", err)
	}
	if err := tex.Upload(pix, w*4); err != nil {
		tex.Release()
		return InvalidID, fmt.Errorf("upload texture: %w", err)
	}

	id := m.allocID()
	m.byID[id] = &entry{path: key, tex: tex}
	m.byPath[key] = id
	m.log.Debug("texture loaded",
		zap.Int32("id", id),
		zap.String("path", key),
		zap.Int("width", w),
		zap.Int("height", h))
	return id, nil
}

// allocID returns the next free handle, wrapping to 1 after the int32 range.
func (m *Manager) allocID() int32 {
	for {
		id := m.nextID
		if m.nextID == gomath.MaxInt32 {
			m.nextID = 1
		} else {
			m.nextID++
		}
		if _, used := m.byID[id]; !used {
			return id
		}
	}
}

// Unload releases a texture. It reports whether the handle existed.
func (m *Manager) Unload(id int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return false
	}
	e.tex.Release()
	delete(m.byID, id)
	delete(m.byPath, e.path)
	return true
}

// Get returns the texture for id, or nil.
func (m *Manager) Get(id int32) gpu.Texture {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[id]; ok {
		return e.tex
	}
	return nil
}

// Count returns the number of loaded textures.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Close releases every texture.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.byID {
		e.tex.Release()
		delete(m.byID, id)
	}
	clear(m.byPath)
}

// decodeFile reads an image and returns straight-alpha BGRA rows. The
// header is checked before the pixels are decoded.
func decodeFile(path string) ([]byte, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return nil, 0, 0, fmt.Errorf("%w: %dx%d", ErrDimensions, cfg.Width, cfg.Height)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, 0, 0, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode %s: %w", format, err)
	}
	pix, w, h := ToBGRA(img)
	return pix, w, h, nil
}

// ToBGRA converts any image to tightly packed straight-alpha BGRA.
func ToBGRA(img image.Image) ([]byte, int, int) {
	b := img.Bounds()
	n, ok := img.(*image.NRGBA)
	if !ok || n.Rect.Min != (image.Point{}) {
		n = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(n, n.Rect, img, b.Min, draw.Src)
	}
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		src := n.Pix[y*n.Stride : y*n.Stride+w*4]
		dst := out[y*w*4 : (y+1)*w*4]
		for x := 0; x < w*4; x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
	return out, w, h
}
