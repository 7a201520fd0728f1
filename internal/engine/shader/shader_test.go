package shader

import (
	"strings"
	"testing"
)

func TestLayerSourcesDeclareUniforms(t *testing.T) {
	uniforms := map[string]string{
		"uWVP":        LayerVertex,
		"uColor":      LayerFragment,
		"uTexMode":    LayerFragment,
		"uTexture":    LayerFragment,
		"uRegion":     LayerFragment,
		"uRegionRot":  LayerFragment,
		"uShape":      LayerFragment,
		"uEdgeSmooth": LayerFragment,
	}
	for name, src := range uniforms {
		if !strings.Contains(src, "uniform") || !strings.Contains(src, " "+name+";") {
			t.Errorf("expected uniform %s to be declared", name)
		}
	}
}

func TestLayerSourcesVersion(t *testing.T) {
	for _, src := range []string{LayerVertex, LayerFragment} {
		if !strings.HasPrefix(strings.TrimSpace(src), "#version 410 core") {
			t.Errorf("expected 410 core version header, got %q", strings.SplitN(strings.TrimSpace(src), "\n", 2)[0])
		}
	}
}
