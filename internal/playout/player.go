package playout

import (
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/pkg/layer"
)

// Engine is the part of the engine a scene drives.
type Engine interface {
	LoadTexture(path string) int32
	UnloadTexture(id int32)

	LoadVideo(path string) int32
	UnloadVideo(id int32)
	PlayVideo(id int32)
	PauseVideo(id int32)
	SetVideoLoop(id int32, loop bool)
	SetVideoAlpha(id int32, on bool)

	ConnectSpoutReceiver(name string) int32
	DisconnectSpoutReceiver(id int32)
	EnableSpoutOutput(name string) bool
	DisableSpoutOutput()

	UpdateLayer(i int, l layer.Layer) bool
	SetLayerCount(n int)

	SetTotalFrames(n int)
	Play()
	Stop()
}

type binding struct {
	src Source
	id  int32
}

func (b binding) valid() bool {
	if b.src.kind() == layer.SourceVideo {
		return b.id != 0
	}
	return b.id > 0
}

// Player applies scenes to one engine and owns the sources it loaded.
type Player struct {
	eng Engine
	log *zap.Logger

	bound map[string]binding
}

// NewPlayer creates a player for eng.
func NewPlayer(eng Engine, log *zap.Logger) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{eng: eng, log: log.Named("playout"), bound: make(map[string]binding)}
}

// Apply makes sc the engine's content. Sources whose definition is
// unchanged keep their handles; a source that fails to load leaves its
// layers solid.
func (p *Player) Apply(sc *Scene) {
	next := make(map[string]binding, len(sc.Sources))
	for name, src := range sc.Sources {
		if old, ok := p.bound[name]; ok && sameMedia(old.src, src) && old.valid() {
			old.src = src
			next[name] = old
			delete(p.bound, name)
		} else {
			next[name] = binding{src: src, id: p.acquire(name, src)}
		}
		if b := next[name]; b.src.kind() == layer.SourceVideo && b.valid() {
			p.eng.SetVideoLoop(b.id, src.Loop)
			p.eng.SetVideoAlpha(b.id, src.Alpha)
			if src.Paused {
				p.eng.PauseVideo(b.id)
			} else {
				p.eng.PlayVideo(b.id)
			}
		}
	}

	resolve := func(name string) (layer.Source, int32, string) {
		b := next[name]
		if !b.valid() {
			return layer.SourceSolid, 0, ""
		}
		return b.src.kind(), b.id, b.src.Image
	}
	n := 0
	for i := range sc.Layers {
		l, err := sc.Layers[i].build(resolve)
		if err != nil {
			// Parse validated the scene; a failure here is a caller bug.
			p.log.Error("layer skipped", zap.Int("index", i), zap.Error(err))
			continue
		}
		p.eng.UpdateLayer(n, l)
		n++
	}
	p.eng.SetLayerCount(n)

	p.releaseAll()
	p.bound = next

	if sc.Output.Spout {
		if !p.eng.EnableSpoutOutput(sc.Output.SenderName) {
			p.log.Warn("spout output could not be enabled", zap.String("sender", sc.Output.SenderName))
		}
	} else {
		p.eng.DisableSpoutOutput()
	}

	if sc.Timeline.TotalFrames > 0 {
		p.eng.SetTotalFrames(sc.Timeline.TotalFrames)
	}
	if sc.Timeline.Play {
		p.eng.Play()
	} else {
		p.eng.Stop()
	}

	p.log.Info("scene applied",
		zap.Int("layers", n),
		zap.Int("sources", len(next)))
}

// Close releases every source the player loaded.
func (p *Player) Close() {
	p.releaseAll()
}

func (p *Player) acquire(name string, src Source) int32 {
	var id int32
	switch src.kind() {
	case layer.SourceImage:
		id = p.eng.LoadTexture(src.Image)
	case layer.SourceVideo:
		id = p.eng.LoadVideo(src.Video)
	case layer.SourceSpout:
		id = p.eng.ConnectSpoutReceiver(src.Spout)
	}
	if b := (binding{src: src, id: id}); !b.valid() {
		p.log.Warn("source unavailable", zap.String("source", name), zap.Stringer("kind", src.kind()))
	}
	return id
}

func (p *Player) releaseAll() {
	for name, b := range p.bound {
		if b.valid() {
			switch b.src.kind() {
			case layer.SourceImage:
				p.eng.UnloadTexture(b.id)
			case layer.SourceVideo:
				p.eng.UnloadVideo(b.id)
			case layer.SourceSpout:
				p.eng.DisconnectSpoutReceiver(b.id)
			}
		}
		delete(p.bound, name)
	}
}

// sameMedia reports whether two definitions refer to the same input;
// playback settings may differ.
func sameMedia(a, b Source) bool {
	return a.Image == b.Image && a.Video == b.Video && a.Spout == b.Spout
}
