package video

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Faultbox/daro-engine/internal/engine/software"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeDecoder yields frames whose first byte is the frame index.
type fakeDecoder struct {
	w, h   int
	n      int
	pos    int
	alpha  byte
	seeks  []int
	closed bool
}

func (d *fakeDecoder) Next() (Frame, error) {
	if d.pos >= d.n {
		return Frame{}, io.EOF
	}
	pix := make([]byte, d.w*d.h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i] = byte(d.pos)
		pix[i+3] = d.alpha
	}
	d.pos++
	return Frame{Data: pix, Stride: d.w * 4, Width: d.w, Height: d.h}, nil
}

func (d *fakeDecoder) Seek(frame int) error {
	d.seeks = append(d.seeks, frame)
	d.pos = frame
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

type fakeBackend struct {
	name        string
	unavailable bool
	probe       Probe
	probeErr    error
	openErr     error
	frames      int
	alpha       byte

	probes int
	dec    *fakeDecoder
}

func (b *fakeBackend) Name() string    { return b.name }
func (b *fakeBackend) Available() bool { return !b.unavailable }

func (b *fakeBackend) Probe(ctx context.Context, path string) (Probe, error) {
	b.probes++
	return b.probe, b.probeErr
}

func (b *fakeBackend) Open(ctx context.Context, path string, p Probe) (Decoder, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.dec = &fakeDecoder{w: p.Width, h: p.Height, n: b.frames, alpha: b.alpha}
	return b.dec, nil
}

func newBackend(name string, frames int) *fakeBackend {
	return &fakeBackend{
		name:   name,
		frames: frames,
		alpha:  255,
		probe:  Probe{Width: 2, Height: 2, FrameRate: 25, TotalFrames: frames},
	}
}

func videoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newPlayer(t *testing.T, backends ...Backend) (*Player, *fakeClock) {
	t.Helper()
	dev, err := software.New(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	return NewPlayer(dev, clock, nil, backends...), clock
}

func loaded(t *testing.T, b *fakeBackend) (*Player, *fakeClock) {
	t.Helper()
	p, clock := newPlayer(t, b)
	if err := p.Load(context.Background(), videoFile(t)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p, clock
}

func firstPixel(t *testing.T, p *Player) [4]byte {
	t.Helper()
	tex := p.Texture()
	if tex == nil {
		t.Fatal("expected a texture")
	}
	pix, _, err := tex.Map()
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Unmap()
	return [4]byte{pix[0], pix[1], pix[2], pix[3]}
}

func TestLoadShowsFirstFrame(t *testing.T) {
	b := newBackend("fake", 10)
	p, _ := loaded(t, b)

	if p.State() != StateOpened {
		t.Errorf("expected opened, got %v", p.State())
	}
	if !p.IsPlaying() {
		t.Error("expected playback to start on load")
	}
	if p.CurrentFrame() != 0 {
		t.Errorf("expected frame 0, got %d", p.CurrentFrame())
	}
	if got := firstPixel(t, p); got[0] != 0 || got[3] != 255 {
		t.Errorf("expected frame 0 on the texture, got %v", got)
	}
	if info := p.Info(); info.Backend != "fake" || info.Width != 2 || info.TotalFrames != 10 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestUpdateFollowsWallClock(t *testing.T) {
	b := newBackend("fake", 1000)
	p, clock := loaded(t, b)

	clock.Advance(time.Second)
	if !p.Update() {
		t.Fatal("expected a new frame")
	}
	if f := p.CurrentFrame(); f < 24 || f > 25 {
		t.Errorf("expected about 25 frames after 1s at 25fps, got %d", f)
	}

	clock.Advance(10 * time.Millisecond)
	before := p.CurrentFrame()
	p.Update()
	if p.CurrentFrame() > before+1 {
		t.Errorf("expected at most one frame for 10ms, got %d", p.CurrentFrame()-before)
	}
}

func TestPauseHoldsFrame(t *testing.T) {
	b := newBackend("fake", 100)
	p, clock := loaded(t, b)

	p.Pause()
	clock.Advance(time.Second)
	if p.Update() {
		t.Error("expected no frames while paused")
	}

	p.Play()
	if p.Update() {
		t.Error("expected Play to discard the paused interval")
	}
	clock.Advance(80 * time.Millisecond)
	p.Update()
	if f := p.CurrentFrame(); f < 1 || f > 2 {
		t.Errorf("expected 1 or 2 frames after resuming, got %d", f)
	}
}

func TestLoopRestarts(t *testing.T) {
	b := newBackend("fake", 5)
	p, clock := loaded(t, b)

	clock.Advance(400 * time.Millisecond)
	p.Update()
	if !p.IsPlaying() {
		t.Error("expected looping playback to continue")
	}
	if p.CurrentFrame() != 0 {
		t.Errorf("expected rewind to frame 0, got %d", p.CurrentFrame())
	}
	if len(b.dec.seeks) == 0 || b.dec.seeks[len(b.dec.seeks)-1] != 0 {
		t.Errorf("expected a seek to 0, got %v", b.dec.seeks)
	}
}

func TestNoLoopStopsAtEnd(t *testing.T) {
	b := newBackend("fake", 5)
	p, clock := loaded(t, b)
	p.SetLoop(false)

	clock.Advance(time.Second)
	p.Update()
	if p.IsPlaying() {
		t.Error("expected playback to stop at the end")
	}
	if p.CurrentFrame() != 4 {
		t.Errorf("expected last frame 4, got %d", p.CurrentFrame())
	}
}

func TestSeekToFrame(t *testing.T) {
	tests := []struct {
		seek, want int
	}{
		{3, 3},
		{0, 0},
		{-5, 0},
		{99, 9},
	}
	for _, tt := range tests {
		b := newBackend("fake", 10)
		p, _ := loaded(t, b)
		p.SeekToFrame(tt.seek)
		if p.CurrentFrame() != tt.want {
			t.Errorf("seek %d: expected frame %d, got %d", tt.seek, tt.want, p.CurrentFrame())
		}
		if got := firstPixel(t, p); int(got[0]) != tt.want {
			t.Errorf("seek %d: expected frame %d on the texture, got %d", tt.seek, tt.want, got[0])
		}
	}
}

func TestSeekToTime(t *testing.T) {
	b := newBackend("fake", 100)
	p, _ := loaded(t, b)
	p.SeekToTime(2)
	if p.CurrentFrame() != 50 {
		t.Errorf("expected frame 50, got %d", p.CurrentFrame())
	}
}

func TestStopRewinds(t *testing.T) {
	b := newBackend("fake", 100)
	p, clock := loaded(t, b)
	clock.Advance(time.Second)
	p.Update()

	p.Stop()
	if p.IsPlaying() {
		t.Error("expected stopped")
	}
	if p.CurrentFrame() != 0 {
		t.Errorf("expected frame 0, got %d", p.CurrentFrame())
	}
}

func TestAlphaFix(t *testing.T) {
	b := newBackend("fake", 10)
	b.alpha = 0
	b.probe.Format = FormatBGRx
	b.probe.NeedsAlphaFix = true
	p, _ := loaded(t, b)

	if got := firstPixel(t, p); got[3] != 255 {
		t.Errorf("expected opaque alpha, got %d", got[3])
	}

	p.SetVideoAlpha(true)
	p.SeekToFrame(1)
	if got := firstPixel(t, p); got[3] != 0 {
		t.Errorf("expected alpha passthrough, got %d", got[3])
	}
}

func TestUploadTruncatedFrame(t *testing.T) {
	p, _ := loaded(t, newBackend("fake", 10))

	// Padded rows whose buffer ends before the last row starts.
	f := Frame{Data: make([]byte, 12), Stride: 16, Width: 2, Height: 2}
	if err := p.upload(f); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}

	// Last row present but short.
	f.Data = make([]byte, 20)
	if err := p.upload(f); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}

	f.Data = make([]byte, 24)
	if err := p.upload(f); err != nil {
		t.Errorf("expected a complete padded frame to upload, got %v", err)
	}
}

func TestTotalFramesEstimate(t *testing.T) {
	b := newBackend("fake", 100)
	b.probe.TotalFrames = 0
	b.probe.FrameRate = 0
	b.probe.Duration = 2 * time.Second
	p, _ := loaded(t, b)

	if p.TotalFrames() != 50 {
		t.Errorf("expected 50 frames at the default rate, got %d", p.TotalFrames())
	}
	if p.Info().FrameRate != DefaultFPS {
		t.Errorf("expected %v fps, got %v", DefaultFPS, p.Info().FrameRate)
	}
}

func TestLoadRejects(t *testing.T) {
	big := filepath.Join(t.TempDir(), "big.mp4")
	f, err := os.Create(big)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(MaxFileSize + 1); err != nil {
		f.Close()
		t.Skipf("sparse file unsupported: %v", err)
	}
	f.Close()

	tests := []struct {
		name string
		path string
		want error
	}{
		{"traversal", t.TempDir() + "/../clip.mp4", ErrPathTraversal},
		{"missing", filepath.Join(t.TempDir(), "none.mp4"), os.ErrNotExist},
		{"too large", big, ErrFileTooLarge},
	}
	for _, tt := range tests {
		b := newBackend("fake", 10)
		p, _ := newPlayer(t, b)
		err := p.Load(context.Background(), tt.path)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if b.probes != 0 {
			t.Errorf("%s: expected no probe, got %d", tt.name, b.probes)
		}
	}
}

func TestBackendFallback(t *testing.T) {
	off := newBackend("off", 10)
	off.unavailable = true
	broken := newBackend("broken", 10)
	broken.openErr = errors.New("no decoder")
	good := newBackend("good", 10)

	p, _ := newPlayer(t, off, broken, good)
	if err := p.Load(context.Background(), videoFile(t)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Info().Backend != "good" {
		t.Errorf("expected fallback to good, got %q", p.Info().Backend)
	}
	if off.probes != 0 {
		t.Error("expected unavailable backend to be skipped")
	}
}

func TestResolutionStopsFallback(t *testing.T) {
	huge := newBackend("huge", 10)
	huge.probe.Width = MaxDimension + 1
	next := newBackend("next", 10)

	p, _ := newPlayer(t, huge, next)
	err := p.Load(context.Background(), videoFile(t))
	if !errors.Is(err, ErrResolution) {
		t.Errorf("expected ErrResolution, got %v", err)
	}
	if next.probes != 0 {
		t.Error("expected no fallback after a resolution failure")
	}
	if p.State() != StateFailed {
		t.Errorf("expected failed state, got %v", p.State())
	}
}

func TestAllBackendsFail(t *testing.T) {
	a := newBackend("a", 10)
	a.probeErr = errors.New("unsupported")
	p, _ := newPlayer(t, a)

	err := p.Load(context.Background(), videoFile(t))
	if !errors.Is(err, ErrNoBackend) {
		t.Errorf("expected ErrNoBackend, got %v", err)
	}
	if p.State() != StateFailed {
		t.Errorf("expected failed state, got %v", p.State())
	}
	if p.Texture() != nil {
		t.Error("expected no texture")
	}

	p.Play()
	if p.IsPlaying() {
		t.Error("expected Play to be ignored without a video")
	}
}

func TestReloadClosesPrevious(t *testing.T) {
	b := newBackend("fake", 10)
	p, _ := loaded(t, b)
	first := b.dec

	if err := p.Load(context.Background(), videoFile(t)); err != nil {
		t.Fatal(err)
	}
	if !first.closed {
		t.Error("expected the previous decoder to be closed")
	}

	p.Unload()
	if !b.dec.closed {
		t.Error("expected Unload to close the decoder")
	}
	if p.State() != StateUnopened {
		t.Errorf("expected unopened, got %v", p.State())
	}
}
