// Package ffmpeg decodes video by running the ffmpeg and ffprobe binaries.
//
// It covers containers and codecs the GStreamer install cannot handle.
// Frames are read from ffmpeg's stdout as raw BGRA; seeking restarts the
// process at the new offset.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/video"
)

// ErrNotFound is returned when the ffmpeg or ffprobe binary is missing.
var ErrNotFound = errors.New("ffmpeg: binaries not found in PATH")

// alphaFormats are source pixel formats that carry an alpha channel.
var alphaFormats = map[string]bool{
	"rgba": true, "bgra": true, "argb": true, "abgr": true,
	"yuva420p": true, "yuva422p": true, "yuva444p": true,
	"yuva420p10le": true, "yuva422p10le": true, "yuva444p10le": true,
	"yuva444p12le": true, "rgba64le": true, "gbrap": true, "gbrap10le": true,
	"gbrap12le": true, "gbrap16le": true, "ya8": true, "pal8": true,
}

// Backend runs ffprobe to probe and ffmpeg to decode.
type Backend struct {
	ffmpeg  string
	ffprobe string
	log     *zap.Logger
}

// New returns a backend. Empty paths fall back to looking the binaries up
// in PATH.
func New(ffmpegPath, ffprobePath string, log *zap.Logger) *Backend {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{ffmpeg: ffmpegPath, ffprobe: ffprobePath, log: log.Named("ffmpeg")}
}

// Name implements video.Backend.
func (b *Backend) Name() string { return "ffmpeg" }

// Available reports whether both binaries can be found.
func (b *Backend) Available() bool {
	if _, err := exec.LookPath(b.ffmpeg); err != nil {
		return false
	}
	_, err := exec.LookPath(b.ffprobe)
	return err == nil
}

// Probe implements video.Backend.
func (b *Backend) Probe(ctx context.Context, path string) (video.Probe, error) {
	if _, err := exec.LookPath(b.ffprobe); err != nil {
		return video.Probe{}, ErrNotFound
	}
	cmd := exec.CommandContext(ctx, b.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,pix_fmt,duration:format=duration",
		"-of", "json",
		path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return video.Probe{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out)
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		PixFmt       string `json:"pix_fmt"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// parseProbe turns ffprobe JSON into a Probe. Output is always BGRA since
// ffmpeg converts; sources without alpha get the alpha fix.
func parseProbe(data []byte) (video.Probe, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return video.Probe{}, fmt.Errorf("ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return video.Probe{}, errors.New("ffprobe: no video stream")
	}
	s := out.Streams[0]

	fps, _ := video.ParseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps, _ = video.ParseRate(s.RFrameRate)
	}

	dur := s.Duration
	if dur == "" || dur == "N/A" {
		dur = out.Format.Duration
	}
	var duration time.Duration
	if secs, err := strconv.ParseFloat(dur, 64); err == nil && secs > 0 {
		duration = time.Duration(secs * float64(time.Second))
	}

	total, _ := strconv.Atoi(s.NbFrames)
	if total <= 0 && fps > 0 {
		total = int(duration.Seconds() * fps)
	}

	hasAlpha := alphaFormats[s.PixFmt]
	return video.Probe{
		Width:         s.Width,
		Height:        s.Height,
		FrameRate:     fps,
		Duration:      duration,
		TotalFrames:   total,
		Format:        video.FormatBGRA,
		HasAlpha:      hasAlpha,
		NeedsAlphaFix: !hasAlpha,
	}, nil
}

// Open implements video.Backend.
func (b *Backend) Open(ctx context.Context, path string, p video.Probe) (video.Decoder, error) {
	if _, err := exec.LookPath(b.ffmpeg); err != nil {
		return nil, ErrNotFound
	}
	fps := p.FrameRate
	if fps <= 0 {
		fps = video.DefaultFPS
	}
	d := &decoder{
		bin:   b.ffmpeg,
		path:  path,
		fps:   fps,
		w:     p.Width,
		h:     p.Height,
		frame: make([]byte, p.Width*p.Height*4),
		log:   b.log,
	}
	if err := d.start(0); err != nil {
		return nil, err
	}
	return d, nil
}

type decoder struct {
	bin   string
	path  string
	fps   float64
	w, h  int
	frame []byte
	log   *zap.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// decodeArgs builds the command line that decodes from offset seconds.
func decodeArgs(path string, offset float64) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset, 'f', 6, 64))
	}
	return append(args,
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-")
}

func (d *decoder) start(frame int) error {
	cmd := exec.Command(d.bin, decodeArgs(d.path, float64(frame)/d.fps)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start: %w", err)
	}
	d.cmd, d.stdout = cmd, stdout
	return nil
}

func (d *decoder) stop() {
	if d.cmd == nil {
		return
	}
	_ = d.stdout.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	d.cmd, d.stdout = nil, nil
}

// Next implements video.Decoder.
func (d *decoder) Next() (video.Frame, error) {
	if d.cmd == nil {
		return video.Frame{}, io.EOF
	}
	if _, err := io.ReadFull(d.stdout, d.frame); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return video.Frame{}, io.EOF
		}
		return video.Frame{}, err
	}
	return video.Frame{Data: d.frame, Stride: d.w * 4, Width: d.w, Height: d.h}, nil
}

// Seek implements video.Decoder by restarting ffmpeg at the frame's time.
func (d *decoder) Seek(frame int) error {
	d.stop()
	d.log.Debug("restart at frame", zap.String("path", d.path), zap.Int("frame", frame))
	return d.start(frame)
}

// Close implements video.Decoder.
func (d *decoder) Close() error {
	d.stop()
	return nil
}
