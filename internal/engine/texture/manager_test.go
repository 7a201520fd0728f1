package texture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	gomath "math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/daro-engine/internal/engine/software"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	dev, err := software.New(16, 16)
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(dev, nil)
}

func writePNG(t *testing.T, dir, name string, w, h int, c color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPNG(t *testing.T) {
	m := newManager(t)
	path := writePNG(t, t.TempDir(), "logo.png", 3, 2, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	id := m.Load(path)
	if id != 1 {
		t.Fatalf("expected handle 1, got %d", id)
	}
	tex := m.Get(id)
	if tex == nil {
		t.Fatal("expected texture")
	}
	if w, h := tex.Size(); w != 3 || h != 2 {
		t.Errorf("expected 3x2, got %dx%d", w, h)
	}
	pix, _, err := tex.Map()
	if err != nil {
		t.Fatal(err)
	}
	// Straight-alpha BGRA.
	if got := [4]byte(pix[:4]); got != [4]byte{50, 100, 200, 128} {
		t.Errorf("expected BGRA {50 100 200 128}, got %v", got)
	}
	tex.Unmap()
}

func TestLoadDeduplicates(t *testing.T) {
	m := newManager(t)
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", 2, 2, color.NRGBA{A: 255})

	first := m.Load(path)
	second := m.Load(filepath.Join(dir, ".", "a.png"))
	if first != second {
		t.Errorf("expected same handle, got %d and %d", first, second)
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 texture, got %d", m.Count())
	}
}

func TestLoadRejects(t *testing.T) {
	m := newManager(t)
	dir := t.TempDir()
	big := writePNG(t, dir, "big.png", MaxDimension+1, 1, color.NRGBA{A: 255})
	junk := filepath.Join(dir, "junk.png")
	if err := os.WriteFile(junk, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"traversal", dir + "/../etc/a.png"},
		{"missing", filepath.Join(dir, "missing.png")},
		{"oversize", big},
		{"corrupt", junk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if id := m.Load(tt.path); id != InvalidID {
				t.Errorf("expected %d, got %d", InvalidID, id)
			}
		})
	}
	if m.Count() != 0 {
		t.Errorf("expected nothing registered, got %d", m.Count())
	}
}

func TestHandleWraps(t *testing.T) {
	m := newManager(t)
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 1, 1, color.NRGBA{A: 255})
	b := writePNG(t, dir, "b.png", 1, 1, color.NRGBA{A: 255})

	m.nextID = gomath.MaxInt32
	if id := m.Load(a); id != gomath.MaxInt32 {
		t.Fatalf("expected MaxInt32, got %d", id)
	}
	if id := m.Load(b); id != 1 {
		t.Errorf("expected wrap to 1, got %d", id)
	}
}

func TestUnload(t *testing.T) {
	m := newManager(t)
	path := writePNG(t, t.TempDir(), "a.png", 1, 1, color.NRGBA{A: 255})
	id := m.Load(path)

	if !m.Unload(id) {
		t.Fatal("expected unload to succeed")
	}
	if m.Unload(id) {
		t.Error("expected second unload to fail")
	}
	if m.Get(id) != nil {
		t.Error("expected nil texture after unload")
	}
	if again := m.Load(path); again == InvalidID || again == id {
		t.Errorf("expected a fresh handle on reload, got %d", again)
	}
}

func TestClose(t *testing.T) {
	m := newManager(t)
	dir := t.TempDir()
	m.Load(writePNG(t, dir, "a.png", 1, 1, color.NRGBA{A: 255}))
	m.Load(writePNG(t, dir, "b.png", 1, 1, color.NRGBA{A: 255}))
	m.Close()
	if m.Count() != 0 {
		t.Errorf("expected 0 textures after Close, got %d", m.Count())
	}
}

func TestLoadTGA(t *testing.T) {
	m := newManager(t)
	path := filepath.Join(t.TempDir(), "a.tga")
	if err := os.WriteFile(path, tgaFile(TGATypeUncompressed, 0), 0o644); err != nil {
		t.Fatal(err)
	}
	id := m.Load(path)
	if id == InvalidID {
		t.Fatal("expected TGA to load")
	}
	if w, h := m.Get(id).Size(); w != 2 || h != 2 {
		t.Errorf("expected 2x2, got %dx%d", w, h)
	}
}
