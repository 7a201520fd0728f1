package spout

import (
	"errors"
	"fmt"
	gomath "math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// InvalidID is returned by Connect on failure.
const InvalidID int32 = -1

// TextureCreator allocates the textures receivers mirror frames into.
type TextureCreator interface {
	CreateTexture(width, height int) (gpu.Texture, error)
}

// Registry enumerates senders in a directory and keeps receivers in sync
// with them.
type Registry struct {
	dir string
	dev TextureCreator
	log *zap.Logger

	mu        sync.Mutex
	receivers map[int32]*receiver
	nextID    int32
	senders   []string

	stale   atomic.Bool
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry opens the registry directory, creating it if needed. A
// watcher marks the sender list stale on changes; without one the list is
// rescanned on every query.
func NewRegistry(dir string, dev TextureCreator, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("spout registry: %w", err)
	}
	r := &Registry{
		dir:       dir,
		dev:       dev,
		log:       log,
		receivers: make(map[int32]*receiver),
		nextID:    1,
		done:      make(chan struct{}),
	}
	r.stale.Store(true)

	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(dir)
		if err != nil {
			_ = w.Close()
		}
	}
	if err != nil {
		r.log.Warn("spout registry watch unavailable, rescanning on demand", zap.Error(err))
		return r, nil
	}
	r.watcher = w
	r.wg.Add(1)
	go r.watch()
	return r, nil
}

// Dir returns the registry directory.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) watch() {
	defer r.wg.Done()
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.stale.Store(true)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Debug("spout registry watch error", zap.Error(err))
			r.stale.Store(true)
		case <-r.done:
			return
		}
	}
}

// Senders returns the live sender names sorted by name.
func (r *Registry) Senders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh()
	return append([]string(nil), r.senders...)
}

// SenderCount returns the number of live senders.
func (r *Registry) SenderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh()
	return len(r.senders)
}

// SenderName returns the i-th sender in name order.
func (r *Registry) SenderName(i int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh()
	if i < 0 || i >= len(r.senders) {
		return "", false
	}
	return r.senders[i], true
}

func (r *Registry) refresh() {
	if r.watcher != nil && !r.stale.Swap(false) {
		return
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.log.Debug("spout registry scan failed", zap.Error(err))
		r.senders = r.senders[:0]
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		name, ok := nameFromPath(path)
		if !ok || !alive(path) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	r.senders = names
}

// alive reports whether a sender holds the liveness lock of path.
func alive(path string) bool {
	if _, err := os.Stat(path + lockExt); err != nil {
		return false
	}
	lf := flock.New(path + lockExt)
	got, err := lf.TryLock()
	if err != nil {
		return false
	}
	if got {
		_ = lf.Unlock()
		return false
	}
	return true
}

// Connect creates a receiver for the named sender. The sender need not
// exist yet; the receiver attaches when it appears.
func (r *Registry) Connect(name string) int32 {
	if !ValidName(name) {
		r.log.Debug("spout connect rejected", zap.Int("name_len", len(name)))
		return InvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	for {
		if r.nextID == gomath.MaxInt32 {
			r.nextID = 1
		} else {
			r.nextID++
		}
		if _, used := r.receivers[id]; !used {
			break
		}
		id = r.nextID
	}
	r.receivers[id] = &receiver{name: name, path: senderPath(r.dir, name)}
	r.log.Debug("spout receiver created", zap.Int32("id", id), zap.String("sender", name))
	return id
}

// Disconnect releases a receiver. It reports whether id existed.
func (r *Registry) Disconnect(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.receivers[id]
	if !ok {
		return false
	}
	rc.release()
	delete(r.receivers, id)
	return true
}

// Update polls every receiver once. Call it once per frame.
func (r *Registry) Update() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rc := range r.receivers {
		if err := rc.update(r.dev); err != nil {
			r.log.Debug("spout receiver update failed",
				zap.Int32("id", id),
				zap.String("sender", rc.name),
				zap.Error(err))
		}
	}
}

// Texture returns the receiver's mirror texture while it is connected.
func (r *Registry) Texture(id int32) gpu.Texture {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.receivers[id]
	if !ok || !rc.connected || rc.tex == nil {
		return nil
	}
	return rc.tex
}

// Connected reports whether a receiver currently mirrors a sender.
func (r *Registry) Connected(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.receivers[id]
	return ok && rc.connected
}

// ReceiverCount returns the number of receivers.
func (r *Registry) ReceiverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receivers)
}

// Close stops the watcher and releases all receivers.
func (r *Registry) Close() {
	if r.watcher != nil {
		close(r.done)
		_ = r.watcher.Close()
		r.wg.Wait()
		r.watcher = nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rc := range r.receivers {
		rc.release()
		delete(r.receivers, id)
	}
}

// receiver mirrors one sender into a texture.
type receiver struct {
	name string
	path string

	f    *os.File
	mem  []byte
	lock *flock.Flock

	generation uuid.UUID
	width      int
	height     int
	frame      uint64
	tex        gpu.Texture
	connected  bool
}

var errShortMapping = errors.New("spout: mapping shorter than frame")

func (rc *receiver) update(dev TextureCreator) error {
	if rc.mem != nil && !rc.sameFile() {
		rc.unmap()
	}
	if rc.mem == nil {
		if err := rc.open(); err != nil {
			rc.connected = false
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
	}

	hdr, err := readHeader(rc.mem)
	if err != nil {
		rc.connected = false
		return err
	}
	if hdr.width <= 0 || hdr.height <= 0 {
		rc.connected = false
		return nil
	}
	if hdr.generation != rc.generation || hdr.width != rc.width || hdr.height != rc.height {
		if err := rc.rebuild(dev, hdr); err != nil {
			rc.connected = false
			return err
		}
	}
	if hdr.frame == rc.frame && rc.connected {
		return nil
	}
	return rc.copyFrame()
}

// sameFile reports whether the mapped file is still the one registered
// under the sender's name.
func (rc *receiver) sameFile() bool {
	cur, err := os.Stat(rc.path)
	if err != nil {
		return false
	}
	mine, err := rc.f.Stat()
	if err != nil {
		return false
	}
	return os.SameFile(cur, mine)
}

func (rc *receiver) open() error {
	f, err := os.Open(rc.path)
	if err != nil {
		return err
	}
	if err := rc.mapFile(f); err != nil {
		_ = f.Close()
		return err
	}
	rc.f = f
	rc.lock = flock.New(rc.path)
	return nil
}

func (rc *receiver) mapFile(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() < headerSize {
		return ErrBadHeader
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("spout mmap: %w", err)
	}
	rc.mem = mem
	return nil
}

// rebuild remaps the file at its current length and recreates the mirror
// texture for a new generation or size.
func (rc *receiver) rebuild(dev TextureCreator, hdr header) error {
	if err := unix.Munmap(rc.mem); err != nil {
		return err
	}
	rc.mem = nil
	if err := rc.mapFile(rc.f); err != nil {
		rc.unmap()
		return err
	}
	if rc.tex != nil {
		rc.tex.Release()
		rc.tex = nil
	}
	tex, err := dev.CreateTexture(hdr.width, hdr.height)
	if err != nil {
		return fmt.Errorf("spout mirror texture: %w", err)
	}
	rc.tex = tex
	rc.generation = hdr.generation
	rc.width, rc.height = hdr.width, hdr.height
	rc.frame = 0
	rc.connected = false
	return nil
}

// copyFrame uploads the shared pixels when the sender is not mid-write.
// A busy lock skips the copy until the next update.
func (rc *receiver) copyFrame() error {
	ok, err := rc.lock.TryRLock()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer func() { _ = rc.lock.Unlock() }()

	hdr, err := readHeader(rc.mem)
	if err != nil {
		return err
	}
	if hdr.generation != rc.generation || hdr.width != rc.width || hdr.height != rc.height {
		// Resized between the header check and the lock; rebuild next time.
		return nil
	}
	if headerSize+hdr.stride*hdr.height > len(rc.mem) || hdr.stride < hdr.width*4 {
		return errShortMapping
	}
	if err := rc.tex.Upload(rc.mem[headerSize:], hdr.stride); err != nil {
		return err
	}
	rc.frame = hdr.frame
	rc.connected = true
	return nil
}

func (rc *receiver) unmap() {
	if rc.mem != nil {
		_ = unix.Munmap(rc.mem)
		rc.mem = nil
	}
	if rc.f != nil {
		_ = rc.f.Close()
		rc.f = nil
	}
	if rc.lock != nil {
		_ = rc.lock.Close()
		rc.lock = nil
	}
	rc.connected = false
	rc.generation = uuid.Nil
}

func (rc *receiver) release() {
	rc.unmap()
	if rc.tex != nil {
		rc.tex.Release()
		rc.tex = nil
	}
	rc.width, rc.height = 0, 0
}
