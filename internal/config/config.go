// Package config handles engine configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all engine settings.
type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	FrameBuffer FrameBufferConfig `yaml:"framebuffer"`
	Video       VideoConfig       `yaml:"video"`
	Fonts       FontsConfig       `yaml:"fonts"`
	Spout       SpoutConfig       `yaml:"spout"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// Render backends.
const (
	BackendAuto     = "auto"
	BackendGL       = "gl"
	BackendSoftware = "software"
)

// EngineConfig holds output and compositor settings.
type EngineConfig struct {
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	TargetFPS     float64 `yaml:"target_fps"`
	Backend       string  `yaml:"backend"`
	EdgeSmoothing float32 `yaml:"edge_smoothing"`
	ShowBounds    bool    `yaml:"show_bounds"`
}

// FrameBufferConfig holds shared frame buffer settings.
type FrameBufferConfig struct {
	Dir          string        `yaml:"dir"` // empty: /dev/shm, else temp
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// VideoConfig holds decoder settings.
type VideoConfig struct {
	FFmpegPath       string `yaml:"ffmpeg_path"`
	FFprobePath      string `yaml:"ffprobe_path"`
	DisableGStreamer bool   `yaml:"disable_gstreamer"`
	MaxPlayers       int    `yaml:"max_players"`
}

// FontsConfig lists directories scanned for font families.
type FontsConfig struct {
	Dirs []string `yaml:"dirs"`
}

// SpoutConfig holds frame sharing settings.
type SpoutConfig struct {
	Dir        string `yaml:"dir"` // registry directory
	SenderName string `yaml:"sender_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig holds the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables /metrics
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Width:         1920,
			Height:        1080,
			TargetFPS:     50,
			Backend:       BackendAuto,
			EdgeSmoothing: 1.0,
		},
		FrameBuffer: FrameBufferConfig{
			WriteTimeout: 10 * time.Millisecond,
		},
		Video: VideoConfig{
			MaxPlayers: 32,
		},
		Spout: SpoutConfig{
			SenderName: "DaroEngine",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Validate reports settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Width <= 0 || c.Engine.Height <= 0 || c.Engine.Width > 16384 || c.Engine.Height > 16384 {
		errs = append(errs, fmt.Errorf("engine: size %dx%d out of range", c.Engine.Width, c.Engine.Height))
	}
	if c.Engine.TargetFPS <= 0 || c.Engine.TargetFPS > 240 {
		errs = append(errs, fmt.Errorf("engine: target_fps %v out of range", c.Engine.TargetFPS))
	}
	switch c.Engine.Backend {
	case BackendAuto, BackendGL, BackendSoftware:
	default:
		errs = append(errs, fmt.Errorf("engine: unknown backend %q", c.Engine.Backend))
	}
	if c.Engine.EdgeSmoothing < 0 || c.Engine.EdgeSmoothing > 10 {
		errs = append(errs, fmt.Errorf("engine: edge_smoothing %v out of range [0, 10]", c.Engine.EdgeSmoothing))
	}
	if c.FrameBuffer.WriteTimeout < 0 {
		errs = append(errs, errors.New("framebuffer: negative write_timeout"))
	}
	if c.Video.MaxPlayers < 0 || c.Video.MaxPlayers > 32 {
		errs = append(errs, fmt.Errorf("video: max_players %d out of range [0, 32]", c.Video.MaxPlayers))
	}
	if len(c.Spout.SenderName) > 255 {
		errs = append(errs, errors.New("spout: sender_name longer than 255 bytes"))
	}
	return errors.Join(errs...)
}
