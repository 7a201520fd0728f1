package overlay

import (
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/software"
	"github.com/Faultbox/daro-engine/pkg/layer"
)

func newSurface(t *testing.T, w, h int) (*Surface, *software.Device) {
	t.Helper()
	dev, err := software.New(w, h)
	if err != nil {
		t.Fatal(err)
	}
	dev.Clear(0, 0, 0, 0)
	book, err := NewFontBook(nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFontBook: %v", err)
	}
	s, err := New(dev, book, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dev
}

func TestFillEllipse(t *testing.T) {
	s, dev := newSurface(t, 40, 40)
	if err := s.FillEllipse(20, 20, 10, 10, [4]float32{1, 0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	if got := dev.Pixel(20, 20); got != [4]byte{0, 0, 255, 255} {
		t.Errorf("center: expected opaque red, got %v", got)
	}
	if got := dev.Pixel(11, 11); got[3] != 0 {
		t.Errorf("outside circle: expected transparent, got %v", got)
	}
	if got := dev.Pixel(2, 2); got[3] != 0 {
		t.Errorf("far corner: expected transparent, got %v", got)
	}
}

func TestFillEllipseHalfAlphaIsPremultiplied(t *testing.T) {
	s, dev := newSurface(t, 20, 20)
	_ = s.FillEllipse(10, 10, 8, 8, [4]float32{1, 1, 1, 0.5})
	got := dev.Pixel(10, 10)
	if got[3] < 126 || got[3] > 129 || got[0] != got[3] {
		t.Errorf("expected premultiplied half white, got %v", got)
	}
}

func TestClipCoverage(t *testing.T) {
	tests := []struct {
		name           string
		clip           Clip
		center, corner uint8
	}{
		{"inner ellipse", Clip{Shape: ClipEllipse, CX: 20, CY: 20, W: 20, H: 20}, 255, 0},
		{"outer ellipse", Clip{Shape: ClipEllipse, CX: 20, CY: 20, W: 20, H: 20, Outer: true}, 0, 255},
		{"inner rect", Clip{Shape: ClipRect, CX: 20, CY: 20, W: 20, H: 20}, 255, 0},
		{"outer rect", Clip{Shape: ClipRect, CX: 20, CY: 20, W: 20, H: 20, Outer: true}, 0, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.clip.Coverage(40, 40)
			if got := m.AlphaAt(20, 20).A; got != tt.center {
				t.Errorf("center: expected %d, got %d", tt.center, got)
			}
			if got := m.AlphaAt(2, 2).A; got != tt.corner {
				t.Errorf("corner: expected %d, got %d", tt.corner, got)
			}
		})
	}
}

func TestClipRestrictsShapes(t *testing.T) {
	s, dev := newSurface(t, 40, 40)
	s.PushClip(Clip{Shape: ClipRect, CX: 10, CY: 20, W: 20, H: 40})
	_ = s.FillEllipse(20, 20, 18, 18, [4]float32{1, 1, 1, 1})
	s.PopClip()

	if dev.Pixel(10, 20)[3] != 255 {
		t.Error("left half should be painted")
	}
	if dev.Pixel(30, 20)[3] != 0 {
		t.Error("right half should be clipped")
	}

	_ = s.FillEllipse(30, 20, 4, 4, [4]float32{1, 1, 1, 1})
	if dev.Pixel(30, 20)[3] != 255 {
		t.Error("pop should restore unclipped drawing")
	}
}

func TestDrawTextPaints(t *testing.T) {
	s, dev := newSurface(t, 200, 80)
	st := TextStyle{Family: "Go", Size: 32, Align: layer.AlignCenter, Color: [4]float32{1, 1, 1, 1}}
	if err := s.DrawText("Hello", 0, 0, 200, 80, st); err != nil {
		t.Fatal(err)
	}
	if n := paintedPixels(dev, 200, 80); n == 0 {
		t.Error("expected text to cover some pixels")
	}
}

func TestDrawTextSharpIsBinary(t *testing.T) {
	s, dev := newSurface(t, 200, 80)
	st := TextStyle{Size: 32, Sharp: true, Color: [4]float32{1, 1, 1, 1}}
	_ = s.DrawText("Sharp", 0, 0, 200, 80, st)
	for y := 0; y < 80; y++ {
		for x := 0; x < 200; x++ {
			if a := dev.Pixel(x, y)[3]; a != 0 && a != 255 {
				t.Fatalf("pixel (%d,%d) has partial alpha %d", x, y, a)
			}
		}
	}
}

func TestTextFormatCache(t *testing.T) {
	s, _ := newSurface(t, 200, 80)
	st := TextStyle{Family: "Go", Size: 24, Color: [4]float32{1, 1, 1, 1}}

	_ = s.DrawText("one", 0, 0, 200, 80, st)
	_ = s.DrawText("two", 0, 0, 200, 80, st)
	if got := s.FormatRebuilds(); got != 1 {
		t.Errorf("same format: expected 1 rebuild, got %d", got)
	}

	st.Color = [4]float32{1, 0, 0, 1}
	_ = s.DrawText("red", 0, 0, 200, 80, st)
	if got := s.FormatRebuilds(); got != 1 {
		t.Errorf("color change must not rebuild, got %d rebuilds", got)
	}

	st.Bold = true
	_ = s.DrawText("bold", 0, 0, 200, 80, st)
	if got := s.FormatRebuilds(); got != 2 {
		t.Errorf("bold change: expected 2 rebuilds, got %d", got)
	}
}

func TestRecreateTarget(t *testing.T) {
	s, _ := newSurface(t, 20, 20)
	s.Invalidate()
	if err := s.FillEllipse(10, 10, 5, 5, [4]float32{1, 1, 1, 1}); !errors.Is(err, ErrRecreateTarget) {
		t.Fatalf("expected ErrRecreateTarget, got %v", err)
	}
	if err := s.Recreate(); err != nil {
		t.Fatal(err)
	}
	if err := s.FillEllipse(10, 10, 5, 5, [4]float32{1, 1, 1, 1}); err != nil {
		t.Errorf("after Recreate: %v", err)
	}
}

func TestWrapLines(t *testing.T) {
	measure := func(s string) float64 { return float64(len(s)) }
	tests := []struct {
		name  string
		in    string
		width float64
		want  []string
	}{
		{"fits", "hello world", 20, []string{"hello world"}},
		{"wraps", "hello big world", 9, []string{"hello big", "world"}},
		{"newline", "a\nb", 20, []string{"a", "b"}},
		{"long word", "supercalifragilistic x", 5, []string{"supercalifragilistic", "x"}},
		{"crlf", "a\r\nb", 20, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapLines(tt.in, tt.width, measure)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStyleFromName(t *testing.T) {
	tests := []struct {
		name         string
		bold, italic bool
	}{
		{"Roboto-Regular.ttf", false, false},
		{"Roboto-Bold.ttf", true, false},
		{"Roboto-BoldItalic.ttf", true, true},
		{"Inter-Oblique.otf", false, true},
	}
	for _, tt := range tests {
		bold, italic := styleFromName(tt.name)
		if bold != tt.bold || italic != tt.italic {
			t.Errorf("%s: expected bold=%v italic=%v, got %v %v", tt.name, tt.bold, tt.italic, bold, italic)
		}
	}
}

func TestFontBookFallback(t *testing.T) {
	book, err := NewFontBook([]string{t.TempDir()}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, found := book.Face("No Such Family", false, false, 12); found {
		t.Error("expected unknown family to report fallback")
	}
	if len(book.Families()) == 0 {
		t.Error("expected the fallback family to be registered")
	}
}

func paintedPixels(dev *software.Device, w, h int) int {
	n := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if dev.Pixel(x, y)[3] != 0 {
				n++
			}
		}
	}
	return n
}
