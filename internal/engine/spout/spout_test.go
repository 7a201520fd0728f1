package spout

import (
	"bytes"
	"errors"
	gomath "math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/Faultbox/daro-engine/internal/engine/software"
)

func newRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	dev, err := software.New(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRegistry(dir, dev, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func newSender(t *testing.T, dir, name string) *Sender {
	t.Helper()
	s, err := NewSender(dir, name, nil)
	if err != nil {
		t.Fatalf("NewSender(%q): %v", name, err)
	}
	return s
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func frame(w, h int, b, g, r, a byte) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = b, g, r, a
	}
	return pix
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"", false},
		{"cam", true},
		{strings.Repeat("x", MaxNameLen), true},
		{strings.Repeat("x", MaxNameLen+1), false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(len %d): expected %v, got %v", len(tt.name), tt.want, got)
		}
	}
}

func TestSenderPathRoundTrip(t *testing.T) {
	for _, name := range []string{"cam", "Studio A / PGM", "ünï"} {
		got, ok := nameFromPath(senderPath("/tmp/x", name))
		if !ok || got != name {
			t.Errorf("expected %q, got %q (ok=%v)", name, got, ok)
		}
	}
	if _, ok := nameFromPath("/tmp/x/zz.spout"); ok {
		t.Error("expected non-hex file name to be rejected")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, headerSize)
	h := header{name: "cam", width: 1920, height: 1080, stride: 7680, frame: 99}
	h.generation[0] = 7
	h.put(buf)

	got, err := readHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("expected %+v, got %+v", h, got)
	}
	if _, err := readHeader(make([]byte, headerSize)); !errors.Is(err, ErrBadHeader) {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
}

func TestNewSenderRejects(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewSender(dir, "", nil); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	s := newSender(t, dir, "cam")
	defer s.Close()
	if _, err := NewSender(dir, "cam", nil); !errors.Is(err, ErrNameInUse) {
		t.Errorf("expected ErrNameInUse, got %v", err)
	}
}

func TestEnumerateSenders(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry(t, dir)

	b := newSender(t, dir, "beta")
	a := newSender(t, dir, "alpha")
	defer b.Close()

	// A data file whose liveness lock nobody holds is a dead sender.
	dead := senderPath(dir, "dead")
	if err := os.WriteFile(dead, make([]byte, headerSize), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dead+lockExt, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	ok := eventually(t, func() bool { return r.SenderCount() == 2 })
	if !ok {
		t.Fatalf("expected 2 senders, got %v", r.Senders())
	}
	if name, _ := r.SenderName(0); name != "alpha" {
		t.Errorf("expected alpha first, got %q", name)
	}
	if _, ok := r.SenderName(2); ok {
		t.Error("expected out-of-range index to fail")
	}

	a.Close()
	if !eventually(t, func() bool { return r.SenderCount() == 1 }) {
		t.Errorf("expected 1 sender after close, got %v", r.Senders())
	}
}

func TestReceiverMirrorsSender(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry(t, dir)
	s := newSender(t, dir, "cam")
	defer s.Close()

	id := r.Connect("cam")
	if id != 1 {
		t.Fatalf("expected receiver 1, got %d", id)
	}

	r.Update()
	if r.Texture(id) != nil {
		t.Error("expected no texture before the first frame")
	}

	if err := s.Send(frame(2, 2, 1, 2, 3, 255), 8, 2, 2); err != nil {
		t.Fatal(err)
	}
	r.Update()
	tex := r.Texture(id)
	if tex == nil {
		t.Fatal("expected mirror texture")
	}
	pix, _, _ := tex.Map()
	if !bytes.Equal(pix, frame(2, 2, 1, 2, 3, 255)) {
		t.Errorf("mirror mismatch: %v", pix)
	}

	if err := s.Send(frame(4, 2, 9, 9, 9, 255), 16, 4, 2); err != nil {
		t.Fatal(err)
	}
	r.Update()
	tex = r.Texture(id)
	if tex == nil {
		t.Fatal("expected mirror after resize")
	}
	if w, h := tex.Size(); w != 4 || h != 2 {
		t.Errorf("expected 4x2 after resize, got %dx%d", w, h)
	}
}

func TestReceiverWaitsForSender(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry(t, dir)
	id := r.Connect("late")
	r.Update()
	if r.Connected(id) {
		t.Fatal("expected disconnected receiver")
	}

	s := newSender(t, dir, "late")
	if err := s.Send(frame(2, 1, 0, 0, 0, 255), 8, 2, 1); err != nil {
		t.Fatal(err)
	}
	r.Update()
	if !r.Connected(id) {
		t.Error("expected receiver to attach once the sender appears")
	}

	s.Close()
	r.Update()
	if r.Connected(id) {
		t.Error("expected receiver to drop a closed sender")
	}
}

func TestReceiverSkipsBusyFrame(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry(t, dir)
	s := newSender(t, dir, "cam")
	defer s.Close()
	if err := s.Send(frame(1, 1, 5, 5, 5, 255), 4, 1, 1); err != nil {
		t.Fatal(err)
	}
	id := r.Connect("cam")

	writer := flock.New(senderPath(dir, "cam"))
	if err := writer.Lock(); err != nil {
		t.Fatal(err)
	}
	r.Update()
	if r.Texture(id) != nil {
		t.Error("expected copy to be skipped while the sender holds the lock")
	}
	_ = writer.Unlock()

	r.Update()
	if r.Texture(id) == nil {
		t.Error("expected copy after the lock was released")
	}
}

func TestConnectHandles(t *testing.T) {
	r := newRegistry(t, t.TempDir())
	if id := r.Connect(""); id != InvalidID {
		t.Errorf("expected %d for empty name, got %d", InvalidID, id)
	}
	if id := r.Connect(strings.Repeat("n", 256)); id != InvalidID {
		t.Errorf("expected %d for long name, got %d", InvalidID, id)
	}

	r.nextID = gomath.MaxInt32
	if id := r.Connect("a"); id != gomath.MaxInt32 {
		t.Errorf("expected MaxInt32, got %d", id)
	}
	if id := r.Connect("b"); id != 1 {
		t.Errorf("expected wrap to 1, got %d", id)
	}
	if !r.Disconnect(1) || r.Disconnect(1) {
		t.Error("expected exactly one successful disconnect")
	}
	if r.ReceiverCount() != 1 {
		t.Errorf("expected 1 receiver, got %d", r.ReceiverCount())
	}
}

func TestSendRejectsShortBuffer(t *testing.T) {
	dir := t.TempDir()
	s := newSender(t, dir, "cam")
	defer s.Close()
	if err := s.Send(make([]byte, 4), 8, 2, 2); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
	if s.FrameNumber() != 0 {
		t.Errorf("expected no frame sent, got %d", s.FrameNumber())
	}
}
