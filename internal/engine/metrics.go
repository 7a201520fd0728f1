package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "daro"

type metrics struct {
	rendered    prometheus.Counter
	writerDrops prometheus.Counter
	missed      prometheus.Counter
	renderTime  prometheus.Histogram
	frameTime   prometheus.Histogram
	fps         prometheus.Gauge
	layers      prometheus.Gauge
	textures    prometheus.Gauge
	videos      prometheus.Gauge
}

// newMetrics creates the engine collectors and registers them on reg when
// it is not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		rendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_rendered_total",
			Help:      "Frames composited and read back.",
		}),
		writerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "framebuffer_dropped_total",
			Help:      "Frames not published because a reader held the frame buffer lock.",
		}),
		missed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_missed_total",
			Help:      "Frame intervals missed by the host or render loop.",
		}),
		renderTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "render_seconds",
			Help:      "Time spent compositing and reading back one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		frameTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "frame_interval_seconds",
			Help:      "Time between consecutive EndFrame calls.",
			Buckets:   []float64{0.008, 0.016, 0.02, 0.033, 0.04, 0.05, 0.1, 0.25},
		}),
		fps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "fps",
			Help:      "Frame rate measured by the last EndFrame.",
		}),
		layers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_layers",
			Help:      "Layers drawn by the last render.",
		}),
		textures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "textures_loaded",
			Help:      "Image textures currently loaded.",
		}),
		videos: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "videos_loaded",
			Help:      "Video players currently loaded.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rendered, m.writerDrops, m.missed, m.renderTime,
			m.frameTime, m.fps, m.layers, m.textures, m.videos)
	}
	return m
}
