package overlay

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gogpu/gg/text"
	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
)

// family holds the four style variants of one font family. Missing variants
// fall back to regular.
type family struct {
	name                            string
	regular, bold, italic, boldItal *text.FontSource
}

func (f *family) pick(bold, italic bool) *text.FontSource {
	switch {
	case bold && italic && f.boldItal != nil:
		return f.boldItal
	case bold && f.bold != nil:
		return f.bold
	case italic && f.italic != nil:
		return f.italic
	case f.regular != nil:
		return f.regular
	case f.bold != nil:
		return f.bold
	case f.italic != nil:
		return f.italic
	}
	return f.boldItal
}

func (f *family) set(src *text.FontSource, bold, italic bool) {
	switch {
	case bold && italic:
		f.boldItal = src
	case bold:
		f.bold = src
	case italic:
		f.italic = src
	default:
		f.regular = src
	}
}

// FontBook resolves family names to font sources. Families come from the
// configured font directories; the Go fonts are the fallback.
type FontBook struct {
	mu       sync.RWMutex
	families map[string]*family
	fallback *family
	log      *zap.Logger
}

// NewFontBook loads the fallback family and every *.ttf / *.otf under dirs.
// Unreadable files are logged and skipped.
func NewFontBook(dirs []string, log *zap.Logger) (*FontBook, error) {
	b := &FontBook{families: make(map[string]*family), log: log}

	fb := &family{}
	for _, f := range []struct {
		data         []byte
		bold, italic bool
	}{
		{goregular.TTF, false, false},
		{gobold.TTF, true, false},
		{goitalic.TTF, false, true},
		{gobolditalic.TTF, true, true},
	} {
		src, err := text.NewFontSource(f.data)
		if err != nil {
			return nil, fmt.Errorf("loading fallback font: %w", err)
		}
		if fb.name == "" {
			fb.name = src.Name()
		}
		fb.set(src, f.bold, f.italic)
	}
	b.fallback = fb
	b.families[strings.ToLower(fb.name)] = fb

	for _, dir := range dirs {
		b.scan(dir)
	}
	return b, nil
}

func (b *FontBook) scan(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".ttf", ".otf":
		default:
			return nil
		}
		if err := b.AddFile(path); err != nil {
			b.log.Debug("skipping font", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		b.log.Warn("font directory scan failed", zap.String("dir", dir), zap.Error(err))
	}
}

// AddFile registers one font file. The style is inferred from the file name.
func (b *FontBook) AddFile(path string) error {
	src, err := text.NewFontSourceFromFile(path)
	if err != nil {
		return err
	}
	bold, italic := styleFromName(filepath.Base(path))
	b.add(src, bold, italic)
	return nil
}

// Add registers font data under the family name embedded in the font.
func (b *FontBook) Add(data []byte, bold, italic bool) error {
	src, err := text.NewFontSource(data)
	if err != nil {
		return err
	}
	b.add(src, bold, italic)
	return nil
}

func (b *FontBook) add(src *text.FontSource, bold, italic bool) {
	key := strings.ToLower(src.Name())
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.families[key]
	if !ok {
		f = &family{name: src.Name()}
		b.families[key] = f
	}
	f.set(src, bold, italic)
}

func styleFromName(name string) (bold, italic bool) {
	n := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	bold = strings.Contains(n, "bold") || strings.Contains(n, "black") || strings.Contains(n, "heavy")
	italic = strings.Contains(n, "italic") || strings.Contains(n, "oblique")
	return bold, italic
}

// Face returns a face for the family at size. found is false when the
// family is unknown and the fallback was used.
func (b *FontBook) Face(name string, bold, italic bool, size float64) (face text.Face, found bool) {
	b.mu.RLock()
	f, ok := b.families[strings.ToLower(name)]
	b.mu.RUnlock()
	if !ok {
		f = b.fallback
	}
	return f.pick(bold, italic).Face(size), ok
}

// Families returns the registered family names, sorted.
func (b *FontBook) Families() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.families))
	for _, f := range b.families {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}
