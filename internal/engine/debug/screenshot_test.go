package debug

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFrameImageSwapsChannels(t *testing.T) {
	// 2x1 frame with padded rows: opaque blue, then half transparent red.
	pix := []byte{
		255, 0, 0, 255, 0, 0, 128, 128, 9, 9, 9, 9,
	}
	img, err := FrameImage(pix, 12, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 255, 255, 128, 0, 0, 128}
	if !bytes.Equal(img.Pix, want) {
		t.Errorf("expected %v, got %v", want, img.Pix)
	}
}

func TestFrameImageRejectsShortData(t *testing.T) {
	tests := []struct {
		name            string
		n, stride, w, h int
	}{
		{"short", 10, 8, 2, 2},
		{"stride", 32, 4, 2, 2},
		{"empty", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FrameImage(make([]byte, tt.n), tt.stride, tt.w, tt.h); !errors.Is(err, ErrFrameSize) {
				t.Errorf("expected ErrFrameSize, got %v", err)
			}
		})
	}
}

func TestCaptureFrame(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	sc := NewScreenshotCapture(dir, "daro")
	sc.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	if got, want := sc.GenerateFilename(42), filepath.Join(dir, "daro_2026-03-04_05-06-07_000042.png"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	pix := bytes.Repeat([]byte{0, 255, 0, 255}, 4)
	path, err := sc.CaptureFrame(pix, 8, 2, 2, 42)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, a := img.At(1, 1).RGBA()
	if r != 0 || g != 0xffff || b != 0 || a != 0xffff {
		t.Errorf("expected opaque green, got %d %d %d %d", r, g, b, a)
	}
}

func TestWriteFileBadFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	if err := WriteFile(path, nil, 8, 2, 2); !errors.Is(err, ErrFrameSize) {
		t.Errorf("expected ErrFrameSize, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file, got %v", err)
	}
}
