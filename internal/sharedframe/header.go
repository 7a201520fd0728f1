// Package sharedframe publishes the composited frame in a shared memory
// region that other processes can map.
//
// The region is a file named DaroFrameBuffer_<pid>, created owner-only in
// /dev/shm when it exists. It holds a packed 24-byte little-endian header
// followed by BGRA rows:
//
//	0  width       int32
//	4  height      int32
//	8  stride      int32
//	12 frameNumber int64
//	20 state       uint32
//
// The state word is updated atomically by every party:
//
//	bit 0       locked in place by the owning process (LockFrameBuffer)
//	bit 1       a frame copy is in progress
//	bits 8-15   readers in other processes holding Reader.Lock
//	bits 16-31  completed writes, wrapping
//
// Hosts that only test the word against zero see any lock as locked. The
// frame number only grows. A copy is consistent when the write bit was
// clear and the write count unchanged on both sides of it.
package sharedframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// HeaderSize is the size of the region header in bytes.
const HeaderSize = 24

// MaxDimension bounds width and height.
const MaxDimension = 16384

// Prefix starts every region file name.
const Prefix = "DaroFrameBuffer_"

const (
	offWidth  = 0
	offHeight = 4
	offStride = 8
	offFrame  = 12
	offLocked = 20
)

var (
	ErrInvalidSize = errors.New("sharedframe: dimensions out of range")
	ErrBadHeader   = errors.New("sharedframe: region header does not match its size")
	ErrShortBuffer = errors.New("sharedframe: destination too small")
	ErrClosed      = errors.New("sharedframe: region closed")
	ErrBusy        = errors.New("sharedframe: frame is being written")
	ErrReadOnly    = errors.New("sharedframe: region mapped read-only")
)

// Header is the decoded region header.
type Header struct {
	Width, Height int
	Stride        int
	FrameNumber   int64
	Locked        bool
	Readers       int // cross-process reader locks
}

// Frame is a view of the region's pixels.
type Frame struct {
	Pix           []byte
	Width, Height int
	Stride        int
}

const (
	stateHostLock    uint32 = 1 << 0
	stateWriting     uint32 = 1 << 1
	stateReaderShift        = 8
	stateReaderOne   uint32 = 1 << stateReaderShift
	stateReaderMask  uint32 = 0xFF << stateReaderShift
	stateSeqShift           = 16
	stateSeqOne      uint32 = 1 << stateSeqShift
)

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[offWidth:], uint32(h.Width))
	binary.LittleEndian.PutUint32(b[offHeight:], uint32(h.Height))
	binary.LittleEndian.PutUint32(b[offStride:], uint32(h.Stride))
	binary.LittleEndian.PutUint64(b[offFrame:], uint64(h.FrameNumber))
	var st uint32
	if h.Locked {
		st = stateHostLock
	}
	binary.LittleEndian.PutUint32(b[offLocked:], st)
}

func readHeader(b []byte) Header {
	st := loadState(b)
	return Header{
		Width:       int(int32(binary.LittleEndian.Uint32(b[offWidth:]))),
		Height:      int(int32(binary.LittleEndian.Uint32(b[offHeight:]))),
		Stride:      int(int32(binary.LittleEndian.Uint32(b[offStride:]))),
		FrameNumber: frameNumber(b),
		Locked:      st&(stateHostLock|stateReaderMask) != 0,
		Readers:     int(st & stateReaderMask >> stateReaderShift),
	}
}

func frameNumber(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b[offFrame:]))
}

func setFrameNumber(b []byte, n int64) {
	binary.LittleEndian.PutUint64(b[offFrame:], uint64(n))
}

// The state word sits at a 4-byte aligned offset of a page-aligned mapping
// and is shared with little-endian hosts, so native atomics apply.
func stateWord(b []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[offLocked]))
}

func loadState(b []byte) uint32 {
	return atomic.LoadUint32(stateWord(b))
}

// updateState applies f until the word is swapped or f refuses.
func updateState(b []byte, f func(old uint32) (uint32, bool)) bool {
	p := stateWord(b)
	for {
		old := atomic.LoadUint32(p)
		next, ok := f(old)
		if !ok {
			return false
		}
		if atomic.CompareAndSwapUint32(p, old, next) {
			return true
		}
	}
}

// ValidSize reports whether a frame of w x h can be shared.
func ValidSize(w, h int) bool {
	return w > 0 && h > 0 && w <= MaxDimension && h <= MaxDimension
}

// DefaultDir returns /dev/shm when it exists, else fallback, else the
// temp directory.
func DefaultDir(fallback string) string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	if fallback != "" {
		return fallback
	}
	return os.TempDir()
}

// PathForPID returns the region path for a process in dir.
func PathForPID(dir string, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", Prefix, pid))
}
