package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Faultbox/daro-engine/pkg/layer"
)

// ErrLayerIndex is returned for a slot outside [0, layer.MaxLayers).
var ErrLayerIndex = errors.New("engine: layer index out of range")

func errLayerIndex(i int) error { return fmt.Errorf("%w: %d", ErrLayerIndex, i) }

// SetLayerCount sets how many leading layer slots are composited, clamped
// to [0, layer.MaxLayers].
func (e *Engine) SetLayerCount(n int) {
	n = min(max(n, 0), layer.MaxLayers)
	e.layerMu.Lock()
	e.layerCount = n
	e.layerMu.Unlock()
}

// LayerCount returns the number of composited layer slots.
func (e *Engine) LayerCount() int {
	e.layerMu.Lock()
	defer e.layerMu.Unlock()
	return e.layerCount
}

// UpdateLayer stores l in slot i. It reports false for an index outside
// [0, layer.MaxLayers).
func (e *Engine) UpdateLayer(i int, l layer.Layer) bool {
	if i < 0 || i >= layer.MaxLayers {
		return false
	}
	if len(l.MaskedLayers) > layer.MaxLayers {
		l.MaskedLayers = l.MaskedLayers[:layer.MaxLayers]
	}
	l.MaskedLayers = slices.Clone(l.MaskedLayers)
	e.layerMu.Lock()
	e.layers[i] = l
	e.layerMu.Unlock()
	return true
}

// GetLayer returns a copy of slot i.
func (e *Engine) GetLayer(i int) (layer.Layer, bool) {
	if i < 0 || i >= layer.MaxLayers {
		return layer.Layer{}, false
	}
	e.layerMu.Lock()
	l := e.layers[i]
	e.layerMu.Unlock()
	l.MaskedLayers = slices.Clone(l.MaskedLayers)
	return l, true
}

// UpdateLayerRecord decodes a binary layer record into slot i.
func (e *Engine) UpdateLayerRecord(i int, rec []byte) error {
	if i < 0 || i >= layer.MaxLayers {
		return errLayerIndex(i)
	}
	l, err := layer.Decode(rec)
	if err != nil {
		return err
	}
	e.UpdateLayer(i, l)
	return nil
}

// GetLayerRecord encodes slot i into dst, which must hold
// layer.RecordSize bytes.
func (e *Engine) GetLayerRecord(i int, dst []byte) error {
	l, ok := e.GetLayer(i)
	if !ok {
		return errLayerIndex(i)
	}
	return layer.Encode(&l, dst)
}

// ClearLayers zeroes every slot and sets the layer count to 0.
func (e *Engine) ClearLayers() {
	e.layerMu.Lock()
	defer e.layerMu.Unlock()
	clear(e.layers[:])
	e.layerCount = 0
}

// StructSize returns the size of one binary layer record.
func (e *Engine) StructSize() int { return layer.RecordSize }

// Offsets returns the byte offset of every layer record field by name.
func (e *Engine) Offsets() map[string]int { return layer.Offsets() }
