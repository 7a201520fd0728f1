package ffmpeg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Faultbox/daro-engine/internal/video"
)

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		width     int
		fps       float64
		total     int
		duration  time.Duration
		needsFix  bool
		withAlpha bool
	}{
		{
			name: "nb_frames",
			json: `{"streams":[{"width":1920,"height":1080,"pix_fmt":"yuv420p",
				"avg_frame_rate":"25/1","r_frame_rate":"25/1","nb_frames":"250","duration":"10.000000"}],
				"format":{"duration":"10.000000"}}`,
			width: 1920, fps: 25, total: 250, duration: 10 * time.Second, needsFix: true,
		},
		{
			name: "duration estimate and r_frame_rate",
			json: `{"streams":[{"width":640,"height":360,"pix_fmt":"yuva444p10le",
				"avg_frame_rate":"0/0","r_frame_rate":"50/1"}],
				"format":{"duration":"2.0"}}`,
			width: 640, fps: 50, total: 100, duration: 2 * time.Second, withAlpha: true,
		},
		{
			name: "no rate",
			json: `{"streams":[{"width":8,"height":8,"pix_fmt":"rgba",
				"avg_frame_rate":"0/0","r_frame_rate":"0/0"}],"format":{}}`,
			width: 8, withAlpha: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseProbe([]byte(tt.json))
			if err != nil {
				t.Fatal(err)
			}
			if p.Width != tt.width {
				t.Errorf("expected width %d, got %d", tt.width, p.Width)
			}
			if p.FrameRate != tt.fps {
				t.Errorf("expected %v fps, got %v", tt.fps, p.FrameRate)
			}
			if p.TotalFrames != tt.total {
				t.Errorf("expected %d frames, got %d", tt.total, p.TotalFrames)
			}
			if p.Duration != tt.duration {
				t.Errorf("expected duration %v, got %v", tt.duration, p.Duration)
			}
			if p.NeedsAlphaFix != tt.needsFix || p.HasAlpha != tt.withAlpha {
				t.Errorf("expected fix=%v alpha=%v, got fix=%v alpha=%v",
					tt.needsFix, tt.withAlpha, p.NeedsAlphaFix, p.HasAlpha)
			}
			if p.Format != video.FormatBGRA {
				t.Errorf("expected BGRA output, got %v", p.Format)
			}
		})
	}
}

func TestParseProbeRejects(t *testing.T) {
	for _, in := range []string{`not json`, `{"streams":[]}`} {
		if _, err := parseProbe([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestDecodeArgs(t *testing.T) {
	args := strings.Join(decodeArgs("/v/clip.mov", 0), " ")
	if strings.Contains(args, "-ss") {
		t.Errorf("expected no seek offset at 0, got %q", args)
	}
	args = strings.Join(decodeArgs("/v/clip.mov", 1.5), " ")
	if !strings.Contains(args, "-ss 1.500000 -i /v/clip.mov") {
		t.Errorf("expected seek before input, got %q", args)
	}
	if !strings.HasSuffix(args, "-f rawvideo -pix_fmt bgra -") {
		t.Errorf("expected raw bgra to stdout, got %q", args)
	}
}

func TestMissingBinaries(t *testing.T) {
	b := New("/nonexistent/ffmpeg", "/nonexistent/ffprobe", nil)
	if b.Available() {
		t.Error("expected backend to be unavailable")
	}
	if _, err := b.Probe(context.Background(), "x.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := b.Open(context.Background(), "x.mp4", video.Probe{Width: 2, Height: 2}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
