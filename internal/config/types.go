// Package config loads and validates the qoldau configuration.
package config

// Config is the root configuration.
type Config struct {
	Ops       OpsConfig       `yaml:"ops"`
	Session   SessionConfig   `yaml:"session"`
	Store     StoreConfig     `yaml:"store"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Logging   LoggingConfig   `yaml:"logging"`
	Channels  ChannelsConfig  `yaml:"channels"`
}

// OpsConfig configures the operator HTTP surface.
type OpsConfig struct {
	Port      int    `yaml:"port"`
	Bind      string `yaml:"bind"` // "loopback" or "lan"
	AuthToken string `yaml:"authToken,omitempty"`
}

// SessionConfig tunes session lifecycle timing.
type SessionConfig struct {
	IdleMinutes    int    `yaml:"idleMinutes"`
	GraceMinutes   int    `yaml:"graceMinutes"`
	SweepSeconds   int    `yaml:"sweepSeconds"`
	Backend        string `yaml:"backend"` // "sqlite" or "memory"
	ReportDays     int    `yaml:"reportDays"`
}

// StoreConfig locates the database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TranscodeConfig configures audio normalization.
type TranscodeConfig struct {
	Bin            string `yaml:"bin"`
	OutDir         string `yaml:"outDir"`
	SampleRate     int    `yaml:"sampleRate"`
	Channels       int    `yaml:"channels"`
	Container      string `yaml:"container"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// DispatchConfig tunes the event pipeline.
type DispatchConfig struct {
	QueueSize      int `yaml:"queueSize"`
	SendRetries    int `yaml:"sendRetries"`
	PersistRetries int `yaml:"persistRetries"`
	BackoffMillis  int `yaml:"backoffMillis"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Style string `yaml:"style"` // "json" or "console"
}

// ChannelsConfig enables messaging transports.
type ChannelsConfig struct {
	Loopback *LoopbackChannelConfig `yaml:"loopback,omitempty"`
}

// LoopbackChannelConfig configures the in-process development channel.
type LoopbackChannelConfig struct {
	Enabled bool   `yaml:"enabled"`
	ID      string `yaml:"id,omitempty"`
}
