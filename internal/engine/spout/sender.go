package spout

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Sender publishes frames under a name.
type Sender struct {
	name string
	path string
	log  *zap.Logger

	live *flock.Flock // held for the sender's lifetime
	data *flock.Flock // held while a frame is written

	f   *os.File
	mem []byte
	hdr header
}

// NewSender registers name in dir. It fails with ErrNameInUse when a live
// sender already owns the name.
func NewSender(dir, name string, log *zap.Logger) (*Sender, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("spout registry: %w", err)
	}
	path := senderPath(dir, name)

	live := flock.New(path + lockExt)
	ok, err := live.TryLock()
	if err != nil {
		return nil, fmt.Errorf("spout liveness lock: %w", err)
	}
	if !ok {
		return nil, ErrNameInUse
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		_ = live.Unlock()
		return nil, fmt.Errorf("spout data file: %w", err)
	}
	s := &Sender{
		name: name,
		path: path,
		log:  log.With(zap.String("sender", name)),
		live: live,
		data: flock.New(path),
		f:    f,
		hdr:  header{name: name},
	}
	if err := s.resize(0, 0); err != nil {
		s.Close()
		return nil, err
	}
	s.log.Info("spout sender registered", zap.String("path", path))
	return s, nil
}

// Name returns the sender name.
func (s *Sender) Name() string { return s.name }

// Size returns the current frame size.
func (s *Sender) Size() (int, int) { return s.hdr.width, s.hdr.height }

// FrameNumber returns the number of frames sent.
func (s *Sender) FrameNumber() uint64 { return s.hdr.frame }

// Send publishes one frame of BGRA rows. A new size remaps the file and
// starts a new generation.
func (s *Sender) Send(pix []byte, stride, width, height int) error {
	if width <= 0 || height <= 0 || stride < width*4 || len(pix) < (height-1)*stride+width*4 {
		return ErrInvalidSize
	}
	if err := s.data.Lock(); err != nil {
		return fmt.Errorf("spout frame lock: %w", err)
	}
	defer func() { _ = s.data.Unlock() }()

	if width != s.hdr.width || height != s.hdr.height {
		if err := s.resize(width, height); err != nil {
			return err
		}
	}

	row := width * 4
	dst := s.mem[headerSize:]
	if stride == row {
		copy(dst, pix[:row*height])
	} else {
		for y := 0; y < height; y++ {
			copy(dst[y*row:(y+1)*row], pix[y*stride:])
		}
	}
	s.hdr.frame++
	s.hdr.put(s.mem)
	return nil
}

// resize recreates the mapping for a new frame size. Callers hold the data
// lock, so no receiver is reading while the file changes length.
func (s *Sender) resize(width, height int) error {
	if s.mem != nil {
		if err := unix.Munmap(s.mem); err != nil {
			return fmt.Errorf("spout unmap: %w", err)
		}
		s.mem = nil
	}
	size := headerSize + width*height*4
	if err := s.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("spout truncate: %w", err)
	}
	mem, err := unix.Mmap(int(s.f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("spout mmap: %w", err)
	}
	s.mem = mem
	s.hdr.width, s.hdr.height, s.hdr.stride = width, height, width*4
	s.hdr.generation = uuid.New()
	s.hdr.put(s.mem)
	if width > 0 {
		s.log.Debug("spout sender resized",
			zap.Int("width", width),
			zap.Int("height", height),
			zap.Stringer("generation", s.hdr.generation))
	}
	return nil
}

// Close unregisters the sender and removes its files.
func (s *Sender) Close() {
	if s.mem != nil {
		_ = unix.Munmap(s.mem)
		s.mem = nil
	}
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	_ = s.data.Close()
	_ = os.Remove(s.path)
	_ = os.Remove(s.path + lockExt)
	_ = s.live.Unlock()
	s.log.Info("spout sender closed")
}
