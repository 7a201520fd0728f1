package config

import "flag"

var (
	flagConfig   = flag.String("config", "", "Path to config file")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
	flagWidth    = flag.Int("width", 0, "Output width")
	flagHeight   = flag.Int("height", 0, "Output height")
	flagFPS      = flag.Float64("fps", 0, "Target frame rate")
	flagBackend  = flag.String("backend", "", "Render backend: auto, gl or software")
	flagBounds   = flag.Bool("bounds", false, "Draw layer bounds")
	flagMetrics  = flag.String("metrics", "", "Serve Prometheus metrics on this address")
	flagSpoutDir = flag.String("spout-dir", "", "Spout registry directory")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagWidth > 0 {
		cfg.Engine.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Engine.Height = *flagHeight
	}
	if *flagFPS > 0 {
		cfg.Engine.TargetFPS = *flagFPS
	}
	if *flagBackend != "" {
		cfg.Engine.Backend = *flagBackend
	}
	if *flagBounds {
		cfg.Engine.ShowBounds = true
	}
	if *flagMetrics != "" {
		cfg.Metrics.Addr = *flagMetrics
	}
	if *flagSpoutDir != "" {
		cfg.Spout.Dir = *flagSpoutDir
	}
}
