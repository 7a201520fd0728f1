package layer

import (
	"strings"
	"testing"
)

func TestRecordSize(t *testing.T) {
	if RecordSize != 2832 {
		t.Fatalf("RecordSize = %d, host expects 2832", RecordSize)
	}
	if offsetEnd != RecordSize {
		t.Fatalf("fields end at %d, RecordSize is %d", offsetEnd, RecordSize)
	}
}

func TestOffsets(t *testing.T) {
	// Offsets the host asserts on.
	want := map[string]int{
		"id":             0,
		"active":         4,
		"layerType":      8,
		"posX":           12,
		"opacity":        48,
		"colorR":         52,
		"sourceType":     68,
		"textureId":      72,
		"texX":           80,
		"texRot":         96,
		"textureLocked":  100,
		"textContent":    104,
		"fontFamily":     2152,
		"fontSize":       2280,
		"textAlignment":  2292,
		"letterSpacing":  2300,
		"textAntialias":  2304,
		"texturePath":    2308,
		"maskMode":       2568,
		"maskedCount":    2572,
		"maskedLayerIds": 2576,
	}
	got := Offsets()
	for name, off := range want {
		if got[name] != off {
			t.Errorf("offset %s = %d, want %d", name, got[name], off)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	l := Default()
	l.ID = 42
	l.Kind = KindText
	l.PosX, l.PosY = 960, 540
	l.SizeX, l.SizeY = 800, 120
	l.RotZ = 15
	l.Color = [4]float32{1, 0.5, 0.25, 1}
	l.Source = SourceImage
	l.TextureID = 7
	l.Text = "Breaking news: ünïcødé 🎬"
	l.FontFamily = "Roboto"
	l.FontBold = true
	l.Alignment = AlignRight
	l.TexturePath = "/media/logo.png"
	l.MaskMode = MaskOuter
	l.MaskedLayers = []int32{3, 5, 9}

	buf := Marshal(&l)
	if len(buf) != RecordSize {
		t.Fatalf("encoded size %d", len(buf))
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != 42 || got.Kind != KindText || !got.Active {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Text != l.Text {
		t.Errorf("text = %q, want %q", got.Text, l.Text)
	}
	if got.FontFamily != "Roboto" || !got.FontBold || got.FontItalic {
		t.Errorf("font mismatch: %q bold=%v italic=%v", got.FontFamily, got.FontBold, got.FontItalic)
	}
	if got.TexturePath != l.TexturePath {
		t.Errorf("path = %q", got.TexturePath)
	}
	if got.MaskMode != MaskOuter || len(got.MaskedLayers) != 3 || got.MaskedLayers[2] != 9 {
		t.Errorf("mask mismatch: mode=%v ids=%v", got.MaskMode, got.MaskedLayers)
	}
	if got.Color != l.Color || got.RotZ != 15 || got.Alignment != AlignRight {
		t.Errorf("appearance mismatch: %+v", got)
	}
}

func TestEncodeTruncatesStrings(t *testing.T) {
	l := Default()
	l.Text = strings.Repeat("a", MaxText+50)
	l.FontFamily = strings.Repeat("f", MaxFontName*2)
	l.TexturePath = strings.Repeat("é", MaxPath)

	got, err := Decode(Marshal(&l))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Text) != MaxText-1 {
		t.Errorf("text length = %d, want %d", len(got.Text), MaxText-1)
	}
	if len(got.FontFamily) != MaxFontName-1 {
		t.Errorf("font length = %d, want %d", len(got.FontFamily), MaxFontName-1)
	}
	if len(got.TexturePath) > MaxPath-1 || !strings.HasPrefix(l.TexturePath, got.TexturePath) {
		t.Errorf("path truncated badly: %d bytes", len(got.TexturePath))
	}
}

func TestDecodeClampsMaskCount(t *testing.T) {
	buf := make([]byte, RecordSize)
	putI32(buf, OffsetMaskedCount, 1000)
	l, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.MaskedLayers) != MaxLayers {
		t.Errorf("masked count = %d, want %d", len(l.MaskedLayers), MaxLayers)
	}

	putI32(buf, OffsetMaskedCount, -4)
	l, _ = Decode(buf)
	if len(l.MaskedLayers) != 0 {
		t.Errorf("negative count decoded to %d ids", len(l.MaskedLayers))
	}
}

func TestDecodeShort(t *testing.T) {
	if _, err := Decode(make([]byte, RecordSize-1)); err != ErrShortRecord {
		t.Errorf("expected ErrShortRecord, got %v", err)
	}
	if err := Encode(&Layer{}, make([]byte, 10)); err != ErrShortRecord {
		t.Errorf("expected ErrShortRecord, got %v", err)
	}
}

func TestIsMask(t *testing.T) {
	tests := []struct {
		name string
		l    Layer
		want bool
	}{
		{"mask with targets", Layer{Kind: KindMask, MaskedLayers: []int32{1}}, true},
		{"mask without targets", Layer{Kind: KindMask}, false},
		{"circle with targets", Layer{Kind: KindCircle, MaskedLayers: []int32{1}}, true},
		{"rectangle with targets", Layer{Kind: KindRectangle, MaskedLayers: []int32{1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.IsMask(); got != tt.want {
				t.Errorf("IsMask() = %v, want %v", got, tt.want)
			}
		})
	}
}
