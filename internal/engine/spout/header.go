// Package spout shares BGRA frames between processes by name.
//
// Each sender owns a memory-mapped file in a registry directory. The file
// starts with a fixed header followed by the pixel rows. A second
// "<file>.lock" file carries an exclusive flock for as long as the sender
// lives, so a crashed sender is recognised by its lock being free. Frame
// copies in both directions happen under a flock on the data file:
// exclusive for the sender, shared and non-blocking for receivers.
package spout

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxNameLen is the longest sender name in bytes.
const MaxNameLen = 255

const (
	magic   uint32 = 0x54505344 // "DSPT"
	version uint32 = 1

	offMagic      = 0
	offVersion    = 4
	offName       = 8
	offWidth      = offName + MaxNameLen + 1
	offHeight     = offWidth + 4
	offStride     = offHeight + 4
	offFrame      = 280
	offGeneration = 288
	headerSize    = 320

	fileExt = ".spout"
	lockExt = ".lock"
)

var (
	ErrInvalidName = errors.New("spout: name must be 1-255 bytes")
	ErrNameInUse   = errors.New("spout: sender name already in use")
	ErrBadHeader   = errors.New("spout: bad shared header")
	ErrInvalidSize = errors.New("spout: invalid frame size")
)

// ValidName reports whether name can identify a sender.
func ValidName(name string) bool {
	return len(name) > 0 && len(name) <= MaxNameLen
}

// header is the fixed prefix of a sender file.
type header struct {
	name          string
	width, height int
	stride        int
	frame         uint64
	generation    uuid.UUID
}

func (h *header) put(b []byte) {
	binary.LittleEndian.PutUint32(b[offMagic:], magic)
	binary.LittleEndian.PutUint32(b[offVersion:], version)
	name := b[offName : offName+MaxNameLen+1]
	clear(name)
	copy(name[:MaxNameLen], h.name)
	binary.LittleEndian.PutUint32(b[offWidth:], uint32(h.width))
	binary.LittleEndian.PutUint32(b[offHeight:], uint32(h.height))
	binary.LittleEndian.PutUint32(b[offStride:], uint32(h.stride))
	binary.LittleEndian.PutUint64(b[offFrame:], h.frame)
	copy(b[offGeneration:offGeneration+16], h.generation[:])
}

func readHeader(b []byte) (header, error) {
	if len(b) < headerSize || binary.LittleEndian.Uint32(b[offMagic:]) != magic {
		return header{}, ErrBadHeader
	}
	if binary.LittleEndian.Uint32(b[offVersion:]) != version {
		return header{}, ErrBadHeader
	}
	name := b[offName : offName+MaxNameLen]
	if i := indexZero(name); i >= 0 {
		name = name[:i]
	}
	h := header{
		name:   string(name),
		width:  int(binary.LittleEndian.Uint32(b[offWidth:])),
		height: int(binary.LittleEndian.Uint32(b[offHeight:])),
		stride: int(binary.LittleEndian.Uint32(b[offStride:])),
		frame:  binary.LittleEndian.Uint64(b[offFrame:]),
	}
	copy(h.generation[:], b[offGeneration:offGeneration+16])
	return h, nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// senderPath maps a sender name to its data file. Names are hex encoded so
// any byte string is a safe file name.
func senderPath(dir, name string) string {
	return filepath.Join(dir, hex.EncodeToString([]byte(name))+fileExt)
}

// nameFromPath reverses senderPath.
func nameFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	raw, err := hex.DecodeString(strings.TrimSuffix(base, fileExt))
	if err != nil || !ValidName(string(raw)) {
		return "", false
	}
	return string(raw), true
}
