package config

// Config is the top-level configuration carrier.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Remote    RemoteConfig    `yaml:"remote"`
	Stream    StreamConfig    `yaml:"stream"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	SlTp      SlTpConfig      `yaml:"sltp"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`
	HTTPAddr string `yaml:"http_addr"`
}

// RemoteConfig describes the trading service the core calls for snapshots
// and mutations.
type RemoteConfig struct {
	APIURL             string `yaml:"api_url"`
	APIToken           string `yaml:"api_token"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	BreakerThreshold   int    `yaml:"breaker_threshold"`
	BreakerCooldownSec int    `yaml:"breaker_cooldown_seconds"`
}

// StreamConfig describes the push-event websocket endpoint.
type StreamConfig struct {
	Enabled             bool   `yaml:"enabled"`
	URL                 string `yaml:"url"`
	ReconnectMinSeconds int    `yaml:"reconnect_min_seconds"`
	ReconnectMaxSeconds int    `yaml:"reconnect_max_seconds"`
}

type ReconcileConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	RunImmediately  bool `yaml:"run_immediately"`
}

// SlTpConfig carries the stop-loss/take-profit sign convention:
// "side_aware" (default) or "legacy" for the long-only formulas.
type SlTpConfig struct {
	SideConvention string `yaml:"side_convention"`
}
