package sharedframe

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultWriteTimeout is how long Write waits for a held lock.
const DefaultWriteTimeout = 10 * time.Millisecond

// lockPoll is the interval at which a blocked writer or reader rechecks the
// shared state word.
const lockPoll = 500 * time.Microsecond

// Config selects where the region lives and how long writes may wait.
type Config struct {
	Dir          string
	WriteTimeout time.Duration
}

// Writer owns the region of the current process.
type Writer struct {
	path    string
	timeout time.Duration
	log     *zap.Logger

	width, height, stride int

	mu      sync.Mutex
	mem     []byte
	pix     []byte
	locked  bool
	release chan struct{} // closed by Unlock

	dropped atomic.Uint64
}

// Create maps a new region for frames of width x height.
func Create(cfg Config, width, height int, log *zap.Logger) (*Writer, error) {
	if !ValidSize(width, height) {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir("")
	}
	path := PathForPID(dir, os.Getpid())

	stride := width * 4
	size := HeaderSize + stride*height

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sharedframe: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("sharedframe: size region: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("sharedframe: map region: %w", err)
	}

	putHeader(mem, Header{Width: width, Height: height, Stride: stride})
	w := &Writer{
		path:    path,
		timeout: cfg.WriteTimeout,
		log:     log.Named("sharedframe"),
		width:   width,
		height:  height,
		stride:  stride,
		mem:     mem,
		pix:     mem[HeaderSize:],
	}
	w.log.Info("frame buffer created",
		zap.String("path", path),
		zap.Int("width", width),
		zap.Int("height", height))
	return w, nil
}

// Path returns the region file path.
func (w *Writer) Path() string { return w.path }

// Size returns the frame dimensions.
func (w *Writer) Size() (int, int) { return w.width, w.height }

// Dropped returns how many frames were skipped because the lock stayed held.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Write copies a frame into the region and publishes frameNumber. While the
// region is locked, by this process or by a reader elsewhere, it waits up to
// the write timeout and then drops the frame. It reports whether the frame
// was written.
func (w *Writer) Write(src []byte, srcStride int, frameNumber int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mem == nil || srcStride <= 0 || len(src) < srcStride*(w.height-1)+min(srcStride, w.stride) {
		return false
	}

	deadline := time.Now().Add(w.timeout)
	for !w.beginWrite() {
		wait := time.Until(deadline)
		if wait <= 0 {
			w.dropped.Add(1)
			return false
		}
		if w.locked {
			release := w.release
			w.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-release:
			case <-timer.C:
			}
			timer.Stop()
			w.mu.Lock()
		} else {
			// Readers in other processes cannot signal us.
			w.mu.Unlock()
			time.Sleep(min(wait, lockPoll))
			w.mu.Lock()
		}
		if w.mem == nil {
			w.dropped.Add(1)
			return false
		}
	}

	if srcStride == w.stride {
		copy(w.pix, src[:w.stride*w.height])
	} else {
		row := min(srcStride, w.stride)
		for y := 0; y < w.height; y++ {
			copy(w.pix[y*w.stride:y*w.stride+row], src[y*srcStride:y*srcStride+row])
		}
	}
	setFrameNumber(w.mem, frameNumber)
	w.endWrite()
	return true
}

// beginWrite sets the write bit unless a lock is held. Callers hold w.mu.
func (w *Writer) beginWrite() bool {
	return updateState(w.mem, func(s uint32) (uint32, bool) {
		if s&(stateHostLock|stateReaderMask) != 0 {
			return s, false
		}
		return s | stateWriting, true
	})
}

func (w *Writer) endWrite() {
	updateState(w.mem, func(s uint32) (uint32, bool) {
		return s&^stateWriting + stateSeqOne, true
	})
}

// FrameNumber returns the last published frame number.
func (w *Writer) FrameNumber() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mem == nil {
		return 0
	}
	return frameNumber(w.mem)
}

// Lock marks the region as being read in place and returns its pixels.
// Writes wait or drop until Unlock. A copy in progress finishes first.
func (w *Writer) Lock() (Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mem == nil {
		return Frame{}, false
	}
	if !w.locked {
		w.locked = true
		w.release = make(chan struct{})
		updateState(w.mem, func(s uint32) (uint32, bool) { return s | stateHostLock, true })
	}
	return Frame{Pix: w.pix, Width: w.width, Height: w.height, Stride: w.stride}, true
}

// Unlock releases the lock and wakes a waiting writer.
func (w *Writer) Unlock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unlockLocked()
}

func (w *Writer) unlockLocked() {
	if !w.locked {
		return
	}
	w.locked = false
	if w.mem != nil {
		updateState(w.mem, func(s uint32) (uint32, bool) { return s &^ stateHostLock, true })
	}
	close(w.release)
}

// Close unmaps and removes the region.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mem == nil {
		return nil
	}
	w.unlockLocked()
	err := unix.Munmap(w.mem)
	w.mem, w.pix = nil, nil
	if rerr := os.Remove(w.path); rerr != nil && err == nil && !os.IsNotExist(rerr) {
		err = rerr
	}
	return err
}
