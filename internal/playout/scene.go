// Package playout drives an engine from a YAML scene file.
//
// A scene names its media sources once and refers to them from layers by
// name. Applying a scene loads new sources, keeps unchanged ones and
// releases the rest, then replaces the engine's layer table.
package playout

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/daro-engine/pkg/layer"
)

var (
	ErrSourceKind    = errors.New("playout: source must set exactly one of image, video or spout")
	ErrUnknownSource = errors.New("playout: unknown source")
	ErrTooManyLayers = errors.New("playout: too many layers")
)

// Scene is the decoded scene file.
type Scene struct {
	Sources  map[string]Source `yaml:"sources"`
	Output   Output            `yaml:"output"`
	Timeline Timeline          `yaml:"timeline"`
	Layers   []SceneLayer      `yaml:"layers"`
}

// Source is one named media input.
type Source struct {
	Image string `yaml:"image,omitempty"`
	Video string `yaml:"video,omitempty"`
	Spout string `yaml:"spout,omitempty"`

	// Video playback settings.
	Loop   bool `yaml:"loop,omitempty"`
	Alpha  bool `yaml:"alpha,omitempty"`
	Paused bool `yaml:"paused,omitempty"`
}

func (s Source) kind() layer.Source {
	switch {
	case s.Image != "":
		return layer.SourceImage
	case s.Video != "":
		return layer.SourceVideo
	case s.Spout != "":
		return layer.SourceSpout
	}
	return layer.SourceSolid
}

func (s Source) validate() error {
	n := 0
	for _, v := range []string{s.Image, s.Video, s.Spout} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return ErrSourceKind
	}
	return nil
}

// Output selects where composited frames are published besides the frame
// buffer.
type Output struct {
	Spout      bool   `yaml:"spout"`
	SenderName string `yaml:"sender_name"`
}

// Timeline sets the engine transport.
type Timeline struct {
	TotalFrames int  `yaml:"total_frames"`
	Play        bool `yaml:"play"`
}

// Font is the text style of a text layer.
type Font struct {
	Family string  `yaml:"family"`
	Size   float32 `yaml:"size"`
	Bold   bool    `yaml:"bold"`
	Italic bool    `yaml:"italic"`
}

// Mask turns a mask or circle layer into a mask over targets.
type Mask struct {
	Mode    string  `yaml:"mode"` // inner (default) or outer
	Targets []int32 `yaml:"targets"`
}

// SceneLayer is one layer as written in a scene. Unset fields keep the
// values of layer.Default.
type SceneLayer struct {
	ID       int32       `yaml:"id"`
	Active   *bool       `yaml:"active"`
	Kind     string      `yaml:"kind"`
	Pos      [2]float32  `yaml:"pos"`
	Size     [2]float32  `yaml:"size"`
	Rotation [3]float32  `yaml:"rotation"` // degrees about x, y, z
	Anchor   *[2]float32 `yaml:"anchor"`
	Opacity  *float32    `yaml:"opacity"`
	Color    *[4]float32 `yaml:"color"`

	Source         string      `yaml:"source"`
	Region         *[4]float32 `yaml:"region"` // x, y, w, h in texture space
	RegionRotation float32     `yaml:"region_rotation"`
	Locked         bool        `yaml:"locked"`

	Text          string   `yaml:"text"`
	Font          Font     `yaml:"font"`
	Align         string   `yaml:"align"`
	LineHeight    *float32 `yaml:"line_height"`
	LetterSpacing float32  `yaml:"letter_spacing"`
	Antialias     string   `yaml:"antialias"`

	Mask *Mask `yaml:"mask"`
}

var kinds = map[string]layer.Kind{
	"rectangle": layer.KindRectangle,
	"rect":      layer.KindRectangle,
	"circle":    layer.KindCircle,
	"text":      layer.KindText,
	"image":     layer.KindImage,
	"video":     layer.KindVideo,
	"mask":      layer.KindMask,
	"group":     layer.KindGroup,
}

func parseKind(s string) (layer.Kind, error) {
	if s == "" {
		return layer.KindRectangle, nil
	}
	if k, ok := kinds[strings.ToLower(s)]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("playout: unknown layer kind %q", s)
}

func parseAlign(s string) (layer.Align, error) {
	switch strings.ToLower(s) {
	case "", "left":
		return layer.AlignLeft, nil
	case "center", "centre":
		return layer.AlignCenter, nil
	case "right":
		return layer.AlignRight, nil
	}
	return 0, fmt.Errorf("playout: unknown alignment %q", s)
}

func parseMaskMode(s string) (layer.MaskMode, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return layer.MaskInner, nil
	case "outer":
		return layer.MaskOuter, nil
	}
	return 0, fmt.Errorf("playout: unknown mask mode %q", s)
}

func parseAntialias(s string) (layer.Antialias, error) {
	switch strings.ToLower(s) {
	case "", "smooth":
		return layer.AntialiasSmooth, nil
	case "sharp":
		return layer.AntialiasSharp, nil
	}
	return 0, fmt.Errorf("playout: unknown antialias mode %q", s)
}

// Parse decodes and validates a scene. Unknown keys are errors.
func Parse(data []byte) (*Scene, error) {
	var sc Scene
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("playout: decoding scene: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses a scene file.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate reports every problem in the scene.
func (sc *Scene) Validate() error {
	var errs []error
	for name, src := range sc.Sources {
		if err := src.validate(); err != nil {
			errs = append(errs, fmt.Errorf("source %q: %w", name, err))
		}
	}
	if len(sc.Layers) > layer.MaxLayers {
		errs = append(errs, fmt.Errorf("%w: %d > %d", ErrTooManyLayers, len(sc.Layers), layer.MaxLayers))
	}
	for i, sl := range sc.Layers {
		if _, err := sl.build(nil); err != nil {
			errs = append(errs, fmt.Errorf("layer %d: %w", i, err))
			continue
		}
		if sl.Source != "" {
			if _, ok := sc.Sources[sl.Source]; !ok {
				errs = append(errs, fmt.Errorf("layer %d: %w %q", i, ErrUnknownSource, sl.Source))
			}
		}
	}
	return errors.Join(errs...)
}

// resolver maps a source name to its kind, handle and image path.
type resolver func(name string) (layer.Source, int32, string)

// build converts the scene form into a layer record. A nil resolve leaves
// the layer solid.
func (sl *SceneLayer) build(resolve resolver) (layer.Layer, error) {
	l := layer.Default()
	var err error
	if l.Kind, err = parseKind(sl.Kind); err != nil {
		return l, err
	}
	if l.Alignment, err = parseAlign(sl.Align); err != nil {
		return l, err
	}
	if l.Antialias, err = parseAntialias(sl.Antialias); err != nil {
		return l, err
	}

	l.ID = sl.ID
	if sl.Active != nil {
		l.Active = *sl.Active
	}
	l.PosX, l.PosY = sl.Pos[0], sl.Pos[1]
	l.SizeX, l.SizeY = sl.Size[0], sl.Size[1]
	l.RotX, l.RotY, l.RotZ = sl.Rotation[0], sl.Rotation[1], sl.Rotation[2]
	if sl.Anchor != nil {
		l.AnchorX, l.AnchorY = sl.Anchor[0], sl.Anchor[1]
	}
	if sl.Opacity != nil {
		l.Opacity = *sl.Opacity
	}
	if sl.Color != nil {
		l.Color = *sl.Color
	}
	if sl.Region != nil {
		l.TexX, l.TexY, l.TexW, l.TexH = sl.Region[0], sl.Region[1], sl.Region[2], sl.Region[3]
	}
	l.TexRot = sl.RegionRotation
	l.TextureLocked = sl.Locked

	l.Text = sl.Text
	if sl.Font.Family != "" {
		l.FontFamily = sl.Font.Family
	}
	if sl.Font.Size > 0 {
		l.FontSize = sl.Font.Size
	}
	l.FontBold, l.FontItalic = sl.Font.Bold, sl.Font.Italic
	if sl.LineHeight != nil {
		l.LineHeight = *sl.LineHeight
	}
	l.LetterSpacing = sl.LetterSpacing

	if sl.Mask != nil {
		if l.MaskMode, err = parseMaskMode(sl.Mask.Mode); err != nil {
			return l, err
		}
		l.MaskedLayers = append([]int32(nil), sl.Mask.Targets...)
	}

	if sl.Source != "" && resolve != nil {
		kind, id, path := resolve(sl.Source)
		l.Source = kind
		l.TexturePath = path
		switch kind {
		case layer.SourceImage, layer.SourceVideo:
			l.TextureID = id
		case layer.SourceSpout:
			l.SpoutReceiverID = id
		}
	}
	return l, nil
}
