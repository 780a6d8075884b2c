package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Ops: OpsConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Session: SessionConfig{
			IdleMinutes:  30,
			GraceMinutes: 15,
			SweepSeconds: 60,
			Backend:      "sqlite",
			ReportDays:   7,
		},
		Transcode: TranscodeConfig{
			Bin:            "ffmpeg",
			SampleRate:     16000,
			Channels:       1,
			Container:      "wav",
			TimeoutSeconds: 60,
		},
		Dispatch: DispatchConfig{
			QueueSize:      16,
			SendRetries:    3,
			PersistRetries: 3,
			BackoffMillis:  200,
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "console",
		},
	}
}

// applyDefaults fills zero values after YAML unmarshaling so a partial
// file does not clobber the defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Ops.Port == 0 {
		cfg.Ops.Port = d.Ops.Port
	}
	if cfg.Ops.Bind == "" {
		cfg.Ops.Bind = d.Ops.Bind
	}
	if cfg.Session.IdleMinutes == 0 {
		cfg.Session.IdleMinutes = d.Session.IdleMinutes
	}
	if cfg.Session.GraceMinutes == 0 {
		cfg.Session.GraceMinutes = d.Session.GraceMinutes
	}
	if cfg.Session.SweepSeconds == 0 {
		cfg.Session.SweepSeconds = d.Session.SweepSeconds
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = d.Session.Backend
	}
	if cfg.Session.ReportDays == 0 {
		cfg.Session.ReportDays = d.Session.ReportDays
	}
	if cfg.Transcode.Bin == "" {
		cfg.Transcode.Bin = d.Transcode.Bin
	}
	if cfg.Transcode.SampleRate == 0 {
		cfg.Transcode.SampleRate = d.Transcode.SampleRate
	}
	if cfg.Transcode.Channels == 0 {
		cfg.Transcode.Channels = d.Transcode.Channels
	}
	if cfg.Transcode.Container == "" {
		cfg.Transcode.Container = d.Transcode.Container
	}
	if cfg.Transcode.TimeoutSeconds == 0 {
		cfg.Transcode.TimeoutSeconds = d.Transcode.TimeoutSeconds
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = d.Dispatch.QueueSize
	}
	if cfg.Dispatch.SendRetries == 0 {
		cfg.Dispatch.SendRetries = d.Dispatch.SendRetries
	}
	if cfg.Dispatch.PersistRetries == 0 {
		cfg.Dispatch.PersistRetries = d.Dispatch.PersistRetries
	}
	if cfg.Dispatch.BackoffMillis == 0 {
		cfg.Dispatch.BackoffMillis = d.Dispatch.BackoffMillis
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = d.Logging.Style
	}
}
