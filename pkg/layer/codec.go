package layer

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf16"
	"unicode/utf8"
)

// Version identifies the record layout. Bump it whenever RecordSize or any
// offset changes; the host asserts on both.
const Version = 1

// RecordSize is the encoded size of one layer record in bytes.
const RecordSize = 2832

// Field offsets inside an encoded record (packed, little-endian).
const (
	OffsetID              = 0
	OffsetActive          = 4
	OffsetKind            = 8
	OffsetPosX            = 12
	OffsetPosY            = 16
	OffsetSizeX           = 20
	OffsetSizeY           = 24
	OffsetRotX            = 28
	OffsetRotY            = 32
	OffsetRotZ            = 36
	OffsetAnchorX         = 40
	OffsetAnchorY         = 44
	OffsetOpacity         = 48
	OffsetColorR          = 52
	OffsetColorG          = 56
	OffsetColorB          = 60
	OffsetColorA          = 64
	OffsetSource          = 68
	OffsetTextureID       = 72
	OffsetSpoutReceiverID = 76
	OffsetTexX            = 80
	OffsetTexY            = 84
	OffsetTexW            = 88
	OffsetTexH            = 92
	OffsetTexRot          = 96
	OffsetTextureLocked   = 100
	OffsetText            = 104
	OffsetFontFamily      = OffsetText + MaxText*2
	OffsetFontSize        = OffsetFontFamily + MaxFontName*2
	OffsetFontBold        = OffsetFontSize + 4
	OffsetFontItalic      = OffsetFontBold + 4
	OffsetAlignment       = OffsetFontItalic + 4
	OffsetLineHeight      = OffsetAlignment + 4
	OffsetLetterSpacing   = OffsetLineHeight + 4
	OffsetAntialias       = OffsetLetterSpacing + 4
	OffsetTexturePath     = OffsetAntialias + 4
	OffsetMaskMode        = OffsetTexturePath + MaxPath
	OffsetMaskedCount     = OffsetMaskMode + 4
	OffsetMaskedIDs       = OffsetMaskedCount + 4
	offsetEnd             = OffsetMaskedIDs + MaxLayers*4
)

// ErrShortRecord is returned when a buffer cannot hold a full record.
var ErrShortRecord = errors.New("layer record too short")

var le = binary.LittleEndian

// Encode writes l into dst, which must hold at least RecordSize bytes.
// Strings are truncated to their field capacity and always NUL terminated.
func Encode(l *Layer, dst []byte) error {
	if len(dst) < RecordSize {
		return ErrShortRecord
	}
	b := dst[:RecordSize]
	clear(b)

	putI32(b, OffsetID, l.ID)
	putBool(b, OffsetActive, l.Active)
	putI32(b, OffsetKind, int32(l.Kind))
	putF32(b, OffsetPosX, l.PosX)
	putF32(b, OffsetPosY, l.PosY)
	putF32(b, OffsetSizeX, l.SizeX)
	putF32(b, OffsetSizeY, l.SizeY)
	putF32(b, OffsetRotX, l.RotX)
	putF32(b, OffsetRotY, l.RotY)
	putF32(b, OffsetRotZ, l.RotZ)
	putF32(b, OffsetAnchorX, l.AnchorX)
	putF32(b, OffsetAnchorY, l.AnchorY)
	putF32(b, OffsetOpacity, l.Opacity)
	putF32(b, OffsetColorR, l.Color[0])
	putF32(b, OffsetColorG, l.Color[1])
	putF32(b, OffsetColorB, l.Color[2])
	putF32(b, OffsetColorA, l.Color[3])
	putI32(b, OffsetSource, int32(l.Source))
	putI32(b, OffsetTextureID, l.TextureID)
	putI32(b, OffsetSpoutReceiverID, l.SpoutReceiverID)
	putF32(b, OffsetTexX, l.TexX)
	putF32(b, OffsetTexY, l.TexY)
	putF32(b, OffsetTexW, l.TexW)
	putF32(b, OffsetTexH, l.TexH)
	putF32(b, OffsetTexRot, l.TexRot)
	putBool(b, OffsetTextureLocked, l.TextureLocked)

	putUTF16(b[OffsetText:OffsetFontFamily], l.Text)
	putUTF16(b[OffsetFontFamily:OffsetFontSize], l.FontFamily)
	putF32(b, OffsetFontSize, l.FontSize)
	putBool(b, OffsetFontBold, l.FontBold)
	putBool(b, OffsetFontItalic, l.FontItalic)
	putI32(b, OffsetAlignment, int32(l.Alignment))
	putF32(b, OffsetLineHeight, l.LineHeight)
	putF32(b, OffsetLetterSpacing, l.LetterSpacing)
	putI32(b, OffsetAntialias, int32(l.Antialias))

	putUTF8(b[OffsetTexturePath:OffsetMaskMode], l.TexturePath)

	putI32(b, OffsetMaskMode, int32(l.MaskMode))
	n := min(len(l.MaskedLayers), MaxLayers)
	putI32(b, OffsetMaskedCount, int32(n))
	for i := 0; i < n; i++ {
		putI32(b, OffsetMaskedIDs+i*4, l.MaskedLayers[i])
	}
	return nil
}

// Marshal returns the encoded record.
func Marshal(l *Layer) []byte {
	b := make([]byte, RecordSize)
	_ = Encode(l, b)
	return b
}

// Decode parses one record. The masked layer count is clamped to [0, MaxLayers].
func Decode(src []byte) (Layer, error) {
	if len(src) < RecordSize {
		return Layer{}, ErrShortRecord
	}
	b := src[:RecordSize]

	l := Layer{
		ID:              i32(b, OffsetID),
		Active:          i32(b, OffsetActive) != 0,
		Kind:            Kind(i32(b, OffsetKind)),
		PosX:            f32(b, OffsetPosX),
		PosY:            f32(b, OffsetPosY),
		SizeX:           f32(b, OffsetSizeX),
		SizeY:           f32(b, OffsetSizeY),
		RotX:            f32(b, OffsetRotX),
		RotY:            f32(b, OffsetRotY),
		RotZ:            f32(b, OffsetRotZ),
		AnchorX:         f32(b, OffsetAnchorX),
		AnchorY:         f32(b, OffsetAnchorY),
		Opacity:         f32(b, OffsetOpacity),
		Source:          Source(i32(b, OffsetSource)),
		TextureID:       i32(b, OffsetTextureID),
		SpoutReceiverID: i32(b, OffsetSpoutReceiverID),
		TexX:            f32(b, OffsetTexX),
		TexY:            f32(b, OffsetTexY),
		TexW:            f32(b, OffsetTexW),
		TexH:            f32(b, OffsetTexH),
		TexRot:          f32(b, OffsetTexRot),
		TextureLocked:   i32(b, OffsetTextureLocked) != 0,
		Text:            getUTF16(b[OffsetText:OffsetFontFamily]),
		FontFamily:      getUTF16(b[OffsetFontFamily:OffsetFontSize]),
		FontSize:        f32(b, OffsetFontSize),
		FontBold:        i32(b, OffsetFontBold) != 0,
		FontItalic:      i32(b, OffsetFontItalic) != 0,
		Alignment:       Align(i32(b, OffsetAlignment)),
		LineHeight:      f32(b, OffsetLineHeight),
		LetterSpacing:   f32(b, OffsetLetterSpacing),
		Antialias:       Antialias(i32(b, OffsetAntialias)),
		TexturePath:     getUTF8(b[OffsetTexturePath:OffsetMaskMode]),
		MaskMode:        MaskMode(i32(b, OffsetMaskMode)),
	}
	l.Color = [4]float32{
		f32(b, OffsetColorR),
		f32(b, OffsetColorG),
		f32(b, OffsetColorB),
		f32(b, OffsetColorA),
	}

	n := int(i32(b, OffsetMaskedCount))
	n = max(0, min(n, MaxLayers))
	if n > 0 {
		l.MaskedLayers = make([]int32, n)
		for i := range l.MaskedLayers {
			l.MaskedLayers[i] = i32(b, OffsetMaskedIDs+i*4)
		}
	}
	return l, nil
}

// Offsets returns the named field offsets, used by hosts to verify the ABI.
func Offsets() map[string]int {
	return map[string]int{
		"id":              OffsetID,
		"active":          OffsetActive,
		"layerType":       OffsetKind,
		"posX":            OffsetPosX,
		"posY":            OffsetPosY,
		"sizeX":           OffsetSizeX,
		"sizeY":           OffsetSizeY,
		"rotX":            OffsetRotX,
		"rotY":            OffsetRotY,
		"rotZ":            OffsetRotZ,
		"anchorX":         OffsetAnchorX,
		"anchorY":         OffsetAnchorY,
		"opacity":         OffsetOpacity,
		"colorR":          OffsetColorR,
		"colorG":          OffsetColorG,
		"colorB":          OffsetColorB,
		"colorA":          OffsetColorA,
		"sourceType":      OffsetSource,
		"textureId":       OffsetTextureID,
		"spoutReceiverId": OffsetSpoutReceiverID,
		"texX":            OffsetTexX,
		"texY":            OffsetTexY,
		"texW":            OffsetTexW,
		"texH":            OffsetTexH,
		"texRot":          OffsetTexRot,
		"textureLocked":   OffsetTextureLocked,
		"textContent":     OffsetText,
		"fontFamily":      OffsetFontFamily,
		"fontSize":        OffsetFontSize,
		"fontBold":        OffsetFontBold,
		"fontItalic":      OffsetFontItalic,
		"textAlignment":   OffsetAlignment,
		"lineHeight":      OffsetLineHeight,
		"letterSpacing":   OffsetLetterSpacing,
		"textAntialias":   OffsetAntialias,
		"texturePath":     OffsetTexturePath,
		"maskMode":        OffsetMaskMode,
		"maskedCount":     OffsetMaskedCount,
		"maskedLayerIds":  OffsetMaskedIDs,
	}
}

func putI32(b []byte, off int, v int32)   { le.PutUint32(b[off:], uint32(v)) }
func putF32(b []byte, off int, v float32) { le.PutUint32(b[off:], math.Float32bits(v)) }
func i32(b []byte, off int) int32         { return int32(le.Uint32(b[off:])) }
func f32(b []byte, off int) float32       { return math.Float32frombits(le.Uint32(b[off:])) }

func putBool(b []byte, off int, v bool) {
	if v {
		putI32(b, off, 1)
	}
}

// putUTF16 writes s as UTF-16 code units, leaving room for the terminator.
// A surrogate pair is never split at the capacity boundary.
func putUTF16(field []byte, s string) {
	units := utf16.Encode([]rune(s))
	capacity := len(field)/2 - 1
	if len(units) > capacity {
		units = units[:capacity]
		if n := len(units); n > 0 && utf16.IsSurrogate(rune(units[n-1])) && units[n-1] < 0xDC00 {
			units = units[:n-1]
		}
	}
	for i, u := range units {
		le.PutUint16(field[i*2:], u)
	}
}

func getUTF16(field []byte) string {
	units := make([]uint16, 0, 32)
	for i := 0; i+1 < len(field); i += 2 {
		u := le.Uint16(field[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// putUTF8 copies s as bytes, leaving room for the terminator. Truncation
// backs off to a rune boundary.
func putUTF8(field []byte, s string) {
	capacity := len(field) - 1
	if len(s) > capacity {
		s = s[:capacity]
		for len(s) > 0 && !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	copy(field, s)
}

func getUTF8(field []byte) string {
	for i, c := range field {
		if c == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}
