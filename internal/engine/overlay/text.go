package overlay

import (
	"image"
	"image/color"
	gomath "math"
	"strings"

	"github.com/gogpu/gg/text"
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/pkg/layer"
)

// DefaultFontSize applies when a layer carries no usable size.
const DefaultFontSize = 48

// TextStyle describes how a text block is laid out and painted.
type TextStyle struct {
	Family        string
	Size          float32
	Bold, Italic  bool
	Align         layer.Align
	LineHeight    float32 // multiple of Size; 0 uses the font metrics
	LetterSpacing float32 // pixels, applied before and after every character
	Sharp         bool    // threshold coverage instead of antialiasing
	Color         [4]float32
}

// textFormat is the part of a style that requires rebuilding the face.
type textFormat struct {
	family       string
	size         float32
	bold, italic bool
	align        layer.Align
	lineHeight   float32
}

type textState struct {
	format  textFormat
	valid   bool
	face    text.Face
	advance float64 // distance between baselines
	ascent  float64 // top of a line to its baseline

	brush      *image.Uniform
	brushColor [4]float32
	rebuilds   int
}

func (t *textState) init() {
	t.brush = image.NewUniform(color.NRGBA{A: 255})
	t.brushColor = [4]float32{0, 0, 0, 1}
}

func (t *textState) invalidate() { t.valid = false }

// FormatRebuilds reports how many times the text format was rebuilt.
func (s *Surface) FormatRebuilds() int { return s.text.rebuilds }

// prepare rebuilds the face when the format changed and updates the brush
// color in place.
func (s *Surface) prepare(st TextStyle) {
	size := st.Size
	if size <= 0 {
		size = DefaultFontSize
	}
	f := textFormat{
		family: st.Family, size: size, bold: st.Bold, italic: st.Italic,
		align: st.Align, lineHeight: st.LineHeight,
	}
	t := &s.text
	if !t.valid || t.format != f {
		face, found := s.book.Face(f.family, f.bold, f.italic, float64(size))
		if !found {
			s.log.Debug("font family not found, using fallback", zap.String("family", f.family))
		}
		t.face = face
		if f.lineHeight > 0 {
			t.advance = float64(size * f.lineHeight)
			t.ascent = float64(size) * 0.8
		} else {
			m := face.Metrics()
			t.advance = m.LineHeight()
			t.ascent = m.Ascent
		}
		t.format = f
		t.valid = true
		t.rebuilds++
	}
	if t.brushColor != st.Color {
		t.brushColor = st.Color
		t.brush.C = color.NRGBA{
			R: unit8(st.Color[0]), G: unit8(st.Color[1]),
			B: unit8(st.Color[2]), A: unit8(st.Color[3]),
		}
	}
}

// DrawText lays s out inside the box (left, top, width, height) and paints
// it. Lines wrap at spaces and break at newlines; the paragraph is centered
// vertically.
func (s *Surface) DrawText(str string, left, top, width, height float64, st TextStyle) error {
	if err := s.check(); err != nil {
		return err
	}
	if str == "" {
		return nil
	}
	s.prepare(st)
	t := &s.text
	spacing := float64(st.LetterSpacing)

	lines := wrapLines(str, width, func(l string) float64 { return s.measure(l, spacing) })
	total := float64(len(lines)) * t.advance
	y := top + (height-total)/2 + t.ascent

	dirty := image.Rectangle{}
	size := float64(t.format.size)
	for _, line := range lines {
		lw := s.measure(line, spacing)
		x := left
		switch t.format.align {
		case layer.AlignCenter:
			x = left + (width-lw)/2
		case layer.AlignRight:
			x = left + width - lw
		}
		if line != "" {
			s.drawLine(line, x, y, spacing)
			r := image.Rect(
				int(gomath.Floor(x-size/2)), int(gomath.Floor(y-t.ascent-size/2)),
				int(gomath.Ceil(x+lw+size/2)), int(gomath.Ceil(y+size/2)),
			)
			dirty = dirty.Union(r)
		}
		y += t.advance
	}
	return s.flushText(dirty.Intersect(image.Rect(0, 0, s.width, s.height)), st.Sharp)
}

func (s *Surface) drawLine(line string, x, y, spacing float64) {
	face := s.text.face
	if spacing == 0 {
		text.Draw(s.cov, line, face, x, y, color.White)
		return
	}
	for _, r := range line {
		ch := string(r)
		x += spacing
		text.Draw(s.cov, ch, face, x, y, color.White)
		x += face.Advance(ch) + spacing
	}
}

// measure returns the advance of a line including letter spacing.
func (s *Surface) measure(line string, spacing float64) float64 {
	face := s.text.face
	if spacing == 0 {
		return face.Advance(line)
	}
	w := 0.0
	for _, r := range line {
		w += face.Advance(string(r)) + 2*spacing
	}
	return w
}

// wrapLines breaks str at newlines and then greedily at spaces so that
// each line fits maxWidth. A single word wider than maxWidth stays whole.
func wrapLines(str string, maxWidth float64, measure func(string) float64) []string {
	str = strings.ReplaceAll(str, "\r\n", "\n")
	var lines []string
	for _, para := range strings.Split(str, "\n") {
		words := strings.Split(para, " ")
		cur := words[0]
		for _, w := range words[1:] {
			next := cur + " " + w
			if cur != "" && maxWidth > 0 && measure(next) > maxWidth {
				lines = append(lines, cur)
				cur = w
				continue
			}
			cur = next
		}
		lines = append(lines, cur)
	}
	return lines
}

// flushText turns the coverage plane into premultiplied brush pixels,
// applies the clip and blends them onto the device.
func (s *Surface) flushText(r image.Rectangle, sharp bool) error {
	if r.Empty() {
		return nil
	}
	// 16-bit premultiplied brush components.
	pr, pg, pb, pa := s.text.brush.C.RGBA()
	clip := s.clip()
	stride := s.width * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			ci := y*s.cov.Stride + x
			cov := uint32(s.cov.Pix[ci])
			if cov == 0 {
				continue
			}
			s.cov.Pix[ci] = 0
			if sharp {
				if cov < 128 {
					continue
				}
				cov = 255
			}
			if clip != nil {
				cov = cov * uint32(clip.Pix[y*clip.Stride+x]) / 255
			}
			d := s.out[y*stride+x*4:]
			d[0] = byte(pr * cov / 255 >> 8)
			d[1] = byte(pg * cov / 255 >> 8)
			d[2] = byte(pb * cov / 255 >> 8)
			d[3] = byte(pa * cov / 255 >> 8)
		}
	}
	return s.blend(r)
}

func unit8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}
