package config

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8870"
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = 15
	}
	if c.Remote.BreakerThreshold <= 0 {
		c.Remote.BreakerThreshold = 5
	}
	if c.Remote.BreakerCooldownSec <= 0 {
		c.Remote.BreakerCooldownSec = 30
	}
	if c.Stream.ReconnectMinSeconds <= 0 {
		c.Stream.ReconnectMinSeconds = 1
	}
	if c.Stream.ReconnectMaxSeconds <= 0 {
		c.Stream.ReconnectMaxSeconds = 30
	}
	if c.Reconcile.IntervalSeconds <= 0 {
		c.Reconcile.IntervalSeconds = 60
	}
	if c.SlTp.SideConvention == "" {
		c.SlTp.SideConvention = "side_aware"
	}
}
