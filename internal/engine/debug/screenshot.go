// Package debug writes composited frames to disk for inspection.
package debug

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrFrameSize is returned when pixel data does not cover the frame.
var ErrFrameSize = errors.New("debug: pixel data smaller than frame")

// FrameImage converts premultiplied BGRA rows, top row first, into an
// image.RGBA, which is premultiplied as well.
func FrameImage(pix []byte, stride, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || stride < width*4 || len(pix) < (height-1)*stride+width*4 {
		return nil, fmt.Errorf("%w: %dx%d stride %d, %d bytes", ErrFrameSize, width, height, stride, len(pix))
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := pix[y*stride : y*stride+width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < len(src); x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
	return img, nil
}

// EncodePNG writes a BGRA frame to w as PNG.
func EncodePNG(w io.Writer, pix []byte, stride, width, height int) error {
	img, err := FrameImage(pix, stride, width, height)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

// ScreenshotCapture names and writes frame captures.
type ScreenshotCapture struct {
	outputDir string
	prefix    string
	now       func() time.Time
}

// NewScreenshotCapture creates a capture writing <prefix>_<timestamp>.png
// files into outputDir.
func NewScreenshotCapture(outputDir, prefix string) *ScreenshotCapture {
	return &ScreenshotCapture{
		outputDir: outputDir,
		prefix:    prefix,
		now:       time.Now,
	}
}

// SetOutputDir sets the output directory for screenshots.
func (sc *ScreenshotCapture) SetOutputDir(dir string) {
	sc.outputDir = dir
}

// GenerateFilename returns the path the next capture of frame would use.
func (sc *ScreenshotCapture) GenerateFilename(frame int64) string {
	timestamp := sc.now().Format("2006-01-02_15-04-05")
	filename := fmt.Sprintf("%s_%s_%06d.png", sc.prefix, timestamp, frame)
	if sc.outputDir != "" {
		filename = filepath.Join(sc.outputDir, filename)
	}
	return filename
}

// CaptureFrame writes a BGRA frame under a generated name and returns it.
func (sc *ScreenshotCapture) CaptureFrame(pix []byte, stride, width, height int, frame int64) (string, error) {
	if sc.outputDir != "" {
		if err := os.MkdirAll(sc.outputDir, 0o755); err != nil {
			return "", fmt.Errorf("creating output dir: %w", err)
		}
	}
	filename := sc.GenerateFilename(frame)
	if err := WriteFile(filename, pix, stride, width, height); err != nil {
		return "", err
	}
	return filename, nil
}

// WriteFile writes a BGRA frame to path as PNG.
func WriteFile(path string, pix []byte, stride, width, height int) error {
	// Convert first so a bad frame leaves no empty file behind.
	img, err := FrameImage(pix, stride, width, height)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return file.Close()
}
