package video

import (
	"context"
	gomath "math"
	"testing"
	"time"

	"github.com/Faultbox/daro-engine/internal/engine/software"
)

func newManager(t *testing.T, b Backend) (*Manager, *fakeClock) {
	t.Helper()
	dev, err := software.New(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewManager(dev, clock, nil, b)
	t.Cleanup(m.Close)
	return m, clock
}

func TestManagerLoad(t *testing.T) {
	m, clock := newManager(t, newBackend("fake", 100))
	path := videoFile(t)

	id := m.Load(context.Background(), path)
	if id == InvalidHandle {
		t.Fatal("expected a handle")
	}
	if m.Texture(id) == nil {
		t.Error("expected a texture")
	}
	if m.Total(id) != 100 {
		t.Errorf("expected 100 frames, got %d", m.Total(id))
	}

	clock.Advance(200 * time.Millisecond)
	m.UpdateAll()
	if f := m.Frame(id); f < 4 || f > 5 {
		t.Errorf("expected frame 4 or 5, got %d", f)
	}

	m.Seek(id, 42)
	if m.Frame(id) != 42 {
		t.Errorf("expected frame 42, got %d", m.Frame(id))
	}
	m.Pause(id)
	if m.IsPlaying(id) {
		t.Error("expected paused")
	}
	m.Stop(id)
	if m.Frame(id) != 0 {
		t.Errorf("expected rewind, got %d", m.Frame(id))
	}
}

func TestManagerUnknownHandle(t *testing.T) {
	m, _ := newManager(t, newBackend("fake", 10))
	if m.Frame(7) != 0 || m.Total(7) != 0 {
		t.Error("expected zero for an unknown handle")
	}
	if m.IsPlaying(7) {
		t.Error("expected unknown handle not to play")
	}
	if m.Texture(7) != nil {
		t.Error("expected no texture")
	}
	if m.Unload(7) {
		t.Error("expected Unload of an unknown handle to fail")
	}
	m.Play(7)
	m.Seek(7, 3)
}

func TestManagerLoadFailure(t *testing.T) {
	b := newBackend("fake", 10)
	b.probe.Height = 0
	m, _ := newManager(t, b)
	if id := m.Load(context.Background(), videoFile(t)); id != InvalidHandle {
		t.Errorf("expected %d, got %d", InvalidHandle, id)
	}
	if m.Count() != 0 {
		t.Errorf("expected no players, got %d", m.Count())
	}
}

func TestManagerPlayerLimit(t *testing.T) {
	m, _ := newManager(t, newBackend("fake", 10))
	path := videoFile(t)
	for i := 0; i < MaxPlayers; i++ {
		if id := m.Load(context.Background(), path); id == InvalidHandle {
			t.Fatalf("load %d failed", i)
		}
	}
	if id := m.Load(context.Background(), path); id != InvalidHandle {
		t.Errorf("expected the limit to reject load %d, got %d", MaxPlayers+1, id)
	}

	if !m.Unload(1) {
		t.Fatal("expected handle 1 to unload")
	}
	if id := m.Load(context.Background(), path); id == InvalidHandle {
		t.Error("expected a free slot after unload")
	}
}

func TestManagerHandleWraps(t *testing.T) {
	m, _ := newManager(t, newBackend("fake", 10))
	path := videoFile(t)

	m.nextID = gomath.MaxInt32
	if id := m.Load(context.Background(), path); id != gomath.MaxInt32 {
		t.Errorf("expected MaxInt32, got %d", id)
	}
	if id := m.Load(context.Background(), path); id != 1 {
		t.Errorf("expected wrap to 1, got %d", id)
	}
}

func TestManagerClose(t *testing.T) {
	b := newBackend("fake", 10)
	m, _ := newManager(t, b)
	m.Load(context.Background(), videoFile(t))
	m.Close()
	if m.Count() != 0 {
		t.Errorf("expected no players, got %d", m.Count())
	}
	if !b.dec.closed {
		t.Error("expected decoder to be closed")
	}
}

func TestManagerSetLimit(t *testing.T) {
	m, _ := newManager(t, newBackend("fake", 10))
	path := videoFile(t)
	m.SetLimit(2)
	for i := 0; i < 2; i++ {
		if id := m.Load(context.Background(), path); id == InvalidHandle {
			t.Fatalf("load %d failed", i)
		}
	}
	if id := m.Load(context.Background(), path); id != InvalidHandle {
		t.Errorf("expected limit 2 to reject the third load, got %d", id)
	}

	m.SetLimit(0)
	if m.limit != 1 {
		t.Errorf("expected limit clamped to 1, got %d", m.limit)
	}
	m.SetLimit(MaxPlayers + 10)
	if m.limit != MaxPlayers {
		t.Errorf("expected limit clamped to %d, got %d", MaxPlayers, m.limit)
	}
}
