package sharedframe

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// snapshotAttempts bounds how often Snapshot retries a copy that
	// overlapped a write.
	snapshotAttempts = 50
	snapshotBackoff  = 200 * time.Microsecond
)

// Reader maps another process's region. It maps read-write when it can so
// that it can take the shared lock, and read-only otherwise.
type Reader struct {
	path     string
	mem      []byte
	hdr      Header
	last     int64
	readOnly bool
	held     bool
}

// OpenReader maps the region at path.
func OpenReader(path string) (*Reader, error) {
	readOnly := false
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrPermission) {
		readOnly = true
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("sharedframe: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sharedframe: %w", err)
	}
	if st.Size() < HeaderSize {
		return nil, ErrBadHeader
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		prot = unix.PROT_READ
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sharedframe: map region: %w", err)
	}

	h := readHeader(mem)
	if !ValidSize(h.Width, h.Height) || h.Stride < h.Width*4 ||
		int64(HeaderSize)+int64(h.Stride)*int64(h.Height) > st.Size() {
		_ = unix.Munmap(mem)
		return nil, ErrBadHeader
	}
	return &Reader{path: path, mem: mem, hdr: h, last: -1, readOnly: readOnly}, nil
}

// ReaderForPID maps the region published by pid in dir.
func ReaderForPID(dir string, pid int) (*Reader, error) {
	return OpenReader(PathForPID(dir, pid))
}

// ReadOnly reports whether the region could only be mapped for reading.
func (r *Reader) ReadOnly() bool { return r.readOnly }

// Header returns the geometry read at open time with the current frame
// number and lock state.
func (r *Reader) Header() Header {
	if r.mem == nil {
		return r.hdr
	}
	h := r.hdr
	cur := readHeader(r.mem)
	h.FrameNumber, h.Locked, h.Readers = cur.FrameNumber, cur.Locked, cur.Readers
	return h
}

// Snapshot copies the current frame into dst, which must hold
// Stride*Height bytes. It reports whether the frame number differs from the
// previous snapshot. A copy that overlaps a write is discarded and retried;
// ErrBusy means no consistent copy could be made.
func (r *Reader) Snapshot(dst []byte) (Header, bool, error) {
	if r.mem == nil {
		return Header{}, false, ErrClosed
	}
	size := r.hdr.Stride * r.hdr.Height
	if len(dst) < size {
		return Header{}, false, ErrShortBuffer
	}
	pix := r.mem[HeaderSize : HeaderSize+size]

	for i := 0; i < snapshotAttempts; i++ {
		before := loadState(r.mem)
		if before&stateWriting != 0 {
			time.Sleep(snapshotBackoff)
			continue
		}
		n := frameNumber(r.mem)
		copy(dst, pix)
		after := loadState(r.mem)
		if after&stateWriting != 0 || after>>stateSeqShift != before>>stateSeqShift {
			continue
		}
		h := r.Header()
		h.FrameNumber = n
		fresh := n != r.last
		r.last = n
		return h, fresh, nil
	}
	return Header{}, false, ErrBusy
}

// Lock holds off the writer so the frame can be read in place. It waits up
// to timeout for a write in progress to finish. The returned pixels stay
// valid until Unlock or Close.
func (r *Reader) Lock(timeout time.Duration) (Frame, error) {
	if r.mem == nil {
		return Frame{}, ErrClosed
	}
	if r.readOnly {
		return Frame{}, ErrReadOnly
	}
	f := Frame{
		Pix:    r.mem[HeaderSize : HeaderSize+r.hdr.Stride*r.hdr.Height],
		Width:  r.hdr.Width,
		Height: r.hdr.Height,
		Stride: r.hdr.Stride,
	}
	if r.held {
		return f, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		ok := updateState(r.mem, func(s uint32) (uint32, bool) {
			if s&stateWriting != 0 || s&stateReaderMask == stateReaderMask {
				return s, false
			}
			return s + stateReaderOne, true
		})
		if ok {
			r.held = true
			return f, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return Frame{}, ErrBusy
		}
		time.Sleep(min(wait, lockPoll))
	}
}

// Unlock releases a lock taken with Lock.
func (r *Reader) Unlock() {
	if !r.held || r.mem == nil {
		return
	}
	r.held = false
	updateState(r.mem, func(s uint32) (uint32, bool) {
		if s&stateReaderMask == 0 {
			return s, false
		}
		return s - stateReaderOne, true
	})
}

// Close releases any lock and unmaps the region.
func (r *Reader) Close() error {
	if r.mem == nil {
		return nil
	}
	r.Unlock()
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
