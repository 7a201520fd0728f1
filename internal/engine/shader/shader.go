// Package shader compiles the layer program used by the OpenGL device.
package shader

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// Texture modes of the layer program.
const (
	TexNone     = 0 // fill with the tint
	TexStraight = 1 // straight-alpha texture, premultiplied in the shader
	TexPremul   = 2 // already premultiplied (overlay uploads)
)

// LayerVertex transforms the unit quad and passes uv through.
const LayerVertex = `
#version 410 core

layout (location = 0) in vec2 aPos;
layout (location = 1) in vec2 aUV;

uniform mat4 uWVP;

out vec2 vUV;

void main() {
	gl_Position = uWVP * vec4(aPos, 0.0, 1.0);
	vUV = aUV;
}
`

// LayerFragment samples the optional texture region, tints it, applies the
// shape coverage and the edge falloff. Output is premultiplied.
const LayerFragment = `
#version 410 core

in vec2 vUV;

uniform vec4 uColor;
uniform int uTexMode;
uniform sampler2D uTexture;
uniform vec4 uRegion;
uniform float uRegionRot;
uniform int uShape;
uniform float uEdgeSmooth;

out vec4 FragColor;

void main() {
	float edge;
	if (uShape == 1) {
		float dist = length((vUV - 0.5) * 2.0);
		if (dist > 1.0) {
			discard;
		}
		edge = (1.0 - dist) * 0.5;
	} else {
		edge = min(min(vUV.x, 1.0 - vUV.x), min(vUV.y, 1.0 - vUV.y));
	}

	vec4 c = uColor;
	if (uTexMode != 0) {
		vec2 p = vUV - 0.5;
		float s = sin(uRegionRot);
		float k = cos(uRegionRot);
		vec2 uv = uRegion.xy + (vec2(p.x * k - p.y * s, p.x * s + p.y * k) + 0.5) * uRegion.zw;
		vec4 t = texture(uTexture, uv);
		if (uTexMode == 1) {
			t = vec4(t.rgb * t.a, t.a);
		}
		c = t * uColor;
	}

	if (uEdgeSmooth > 0.0) {
		c *= smoothstep(0.0, fwidth(edge) * uEdgeSmooth, edge);
	}
	FragColor = c;
}
`

// Layer holds the compiled layer program and its uniform locations.
type Layer struct {
	Program    uint32
	WVP        int32
	Color      int32
	TexMode    int32
	Texture    int32
	Region     int32
	RegionRot  int32
	Shape      int32
	EdgeSmooth int32
}

// NewLayer compiles the layer program.
func NewLayer() (*Layer, error) {
	prog, err := CompileProgram(LayerVertex, LayerFragment)
	if err != nil {
		return nil, err
	}
	return &Layer{
		Program:    prog,
		WVP:        GetUniform(prog, "uWVP"),
		Color:      GetUniform(prog, "uColor"),
		TexMode:    GetUniform(prog, "uTexMode"),
		Texture:    GetUniform(prog, "uTexture"),
		Region:     GetUniform(prog, "uRegion"),
		RegionRot:  GetUniform(prog, "uRegionRot"),
		Shape:      GetUniform(prog, "uShape"),
		EdgeSmooth: GetUniform(prog, "uEdgeSmooth"),
	}, nil
}

// Delete releases the program.
func (l *Layer) Delete() {
	if l.Program != 0 {
		gl.DeleteProgram(l.Program)
		l.Program = 0
	}
}

// CompileProgram compiles vertex and fragment shaders and links them into a program.
func CompileProgram(vertexSrc, fragmentSrc string) (uint32, error) {
	vertShader, err := compileShader(vertexSrc, gl.VERTEX_SHADER, "vertex")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vertShader)

	fragShader, err := compileShader(fragmentSrc, gl.FRAGMENT_SHADER, "fragment")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fragShader)

	program := gl.CreateProgram()
	gl.AttachShader(program, vertShader)
	gl.AttachShader(program, fragShader)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetProgramInfoLog(program, logLen, nil, &log[0])
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("link: %s", string(log))
	}

	return program, nil
}

func compileShader(source string, shaderType uint32, name string) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csource, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csource, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetShaderInfoLog(shader, logLen, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%s shader: %s", name, string(log))
	}

	return shader, nil
}

// GetUniform returns the uniform location for the given name, or -1 when
// the uniform is missing or optimized out.
func GetUniform(program uint32, name string) int32 {
	return gl.GetUniformLocation(program, gl.Str(name+"\x00"))
}
