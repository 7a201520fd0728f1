package engine

import (
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/config"
	"github.com/Faultbox/daro-engine/internal/video"
	"github.com/Faultbox/daro-engine/internal/video/ffmpeg"
	"github.com/Faultbox/daro-engine/internal/video/gstreamer"
)

// defaultBackends returns GStreamer followed by the ffmpeg fallback.
func defaultBackends(cfg *config.Config, log *zap.Logger) []video.Backend {
	var backends []video.Backend
	if !cfg.Video.DisableGStreamer {
		backends = append(backends, gstreamer.New(log, gstreamer.DefaultPrerollTimeout))
	}
	return append(backends, ffmpeg.New(cfg.Video.FFmpegPath, cfg.Video.FFprobePath, log))
}
