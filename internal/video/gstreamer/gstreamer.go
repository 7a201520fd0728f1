// Package gstreamer decodes video files through a GStreamer pipeline
// ending in an appsink.
//
// Formats are negotiated in two tiers: BGRA first, then BGRx with the
// alpha fix flagged in the probe.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/video"
)

// DefaultPrerollTimeout bounds how long a pipeline may take to produce its
// first frame.
const DefaultPrerollTimeout = 5 * time.Second

var (
	ErrPreroll = errors.New("gstreamer: pipeline did not preroll")
	ErrNoSink  = errors.New("gstreamer: appsink missing from pipeline")
)

var (
	initOnce  sync.Once
	available bool
)

// Backend opens files with uridecodebin.
type Backend struct {
	log     *zap.Logger
	timeout time.Duration
}

// New returns a backend. A zero timeout means DefaultPrerollTimeout.
func New(log *zap.Logger, timeout time.Duration) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultPrerollTimeout
	}
	return &Backend{log: log.Named("gstreamer"), timeout: timeout}
}

// Name implements video.Backend.
func (b *Backend) Name() string { return "gstreamer" }

// Available reports whether GStreamer and the elements the pipeline needs
// are installed.
func (b *Backend) Available() bool {
	initOnce.Do(func() {
		gst.Init(nil)
		available = true
		for _, name := range []string{"uridecodebin", "videoconvert", "capsfilter", "appsink"} {
			if gst.Find(name) == nil {
				b.log.Warn("gstreamer element missing", zap.String("element", name))
				available = false
			}
		}
	})
	return available
}

// pipelineString describes the decode graph for a file and output format.
func pipelineString(uri string, format video.PixelFormat) string {
	return fmt.Sprintf(
		"uridecodebin uri=%q ! videoconvert ! capsfilter caps=video/x-raw,format=%s ! "+
			"appsink name=sink sync=false max-buffers=2",
		uri, format)
}

func fileURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Probe prerolls the file, first as BGRA and then as BGRx.
func (b *Backend) Probe(ctx context.Context, path string) (video.Probe, error) {
	var lastErr error
	for _, format := range []video.PixelFormat{video.FormatBGRA, video.FormatBGRx} {
		d, err := b.open(ctx, path, format)
		if err != nil {
			b.log.Debug("format tier failed",
				zap.String("path", path),
				zap.Stringer("format", format),
				zap.Error(err))
			lastErr = err
			continue
		}
		p, err := d.probe(format)
		_ = d.Close()
		return p, err
	}
	return video.Probe{}, lastErr
}

// Open implements video.Backend using the format chosen by Probe.
func (b *Backend) Open(ctx context.Context, path string, p video.Probe) (video.Decoder, error) {
	d, err := b.open(ctx, path, p.Format)
	if err != nil {
		return nil, err
	}
	d.fps = p.FrameRate
	if d.fps <= 0 {
		d.fps = video.DefaultFPS
	}
	return d, nil
}

func (b *Backend) open(ctx context.Context, path string, format video.PixelFormat) (*decoder, error) {
	uri, err := fileURI(path)
	if err != nil {
		return nil, err
	}
	pipeline, err := gst.NewPipelineFromString(pipelineString(uri, format))
	if err != nil {
		return nil, fmt.Errorf("gstreamer: create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil || elem == nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, ErrNoSink
	}
	d := &decoder{
		log:      b.log,
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
	}
	if err := d.preroll(ctx, b.timeout); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

type decoder struct {
	log      *zap.Logger
	pipeline *gst.Pipeline
	sink     *app.Sink
	fps      float64
	playing  bool
	buf      []byte
	w, h     int
}

// preroll pauses the pipeline and waits for the first frame or an error.
func (d *decoder) preroll(ctx context.Context, timeout time.Duration) error {
	if err := d.pipeline.SetState(gst.StatePaused); err != nil {
		return fmt.Errorf("%w: %v", ErrPreroll, err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bus := d.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrPreroll, ctx.Err())
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageAsyncDone:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			d.log.Debug("preroll error",
				zap.String("error", gerr.Error()),
				zap.String("debug", gerr.DebugString()))
			return fmt.Errorf("%w: %s", ErrPreroll, gerr.Error())
		case gst.MessageEOS:
			return fmt.Errorf("%w: empty stream", ErrPreroll)
		}
	}
}

func (d *decoder) probe(format video.PixelFormat) (video.Probe, error) {
	sample := d.sink.PullPreroll()
	if sample == nil {
		return video.Probe{}, ErrPreroll
	}
	caps := sample.GetCaps()
	if caps == nil {
		return video.Probe{}, fmt.Errorf("%w: sample without caps", ErrPreroll)
	}
	rc, err := video.ParseRawCaps(caps.String())
	if err != nil {
		return video.Probe{}, err
	}

	p := video.Probe{
		Width:         rc.Width,
		Height:        rc.Height,
		FrameRate:     rc.FrameRate,
		Format:        format,
		NeedsAlphaFix: format == video.FormatBGRx,
		HasAlpha:      format == video.FormatBGRA,
	}
	if ok, ns := d.pipeline.QueryDuration(gst.FormatTime); ok && ns > 0 {
		p.Duration = time.Duration(ns)
		if p.FrameRate > 0 {
			p.TotalFrames = int(p.Duration.Seconds() * p.FrameRate)
		}
	}
	return p, nil
}

// Next implements video.Decoder. The first call starts the pipeline; the
// prerolled frame is returned first.
func (d *decoder) Next() (video.Frame, error) {
	if !d.playing {
		if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
			return video.Frame{}, err
		}
		d.playing = true
	}
	sample := d.sink.PullSample()
	if sample == nil {
		if d.sink.IsEOS() {
			return video.Frame{}, io.EOF
		}
		return video.Frame{}, errors.New("gstreamer: no sample")
	}
	if d.w == 0 {
		if caps := sample.GetCaps(); caps != nil {
			if rc, err := video.ParseRawCaps(caps.String()); err == nil {
				d.w, d.h = rc.Width, rc.Height
			}
		}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return video.Frame{}, errors.New("gstreamer: sample without buffer")
	}
	info := buffer.Map(gst.MapRead)
	data := info.Bytes()
	d.buf = append(d.buf[:0], data...)
	buffer.Unmap()

	if d.h <= 0 || len(d.buf) < d.h {
		return video.Frame{}, io.ErrUnexpectedEOF
	}
	return video.Frame{Data: d.buf, Stride: len(d.buf) / d.h, Width: d.w, Height: d.h}, nil
}

// Seek implements video.Decoder with a flushing, frame-accurate seek.
func (d *decoder) Seek(frame int) error {
	ns := int64(float64(frame) / d.fps * float64(time.Second))
	if !d.pipeline.SeekSimple(ns, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagAccurate) {
		return fmt.Errorf("gstreamer: seek to frame %d failed", frame)
	}
	return nil
}

// Close implements video.Decoder.
func (d *decoder) Close() error {
	return d.pipeline.SetState(gst.StateNull)
}
