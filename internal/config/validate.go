package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Ops.Port < 0 || cfg.Ops.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "ops.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Ops.Port),
		})
	}

	validBinds := []string{"loopback", "lan"}
	if cfg.Ops.Bind != "" && !slices.Contains(validBinds, cfg.Ops.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "ops.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Ops.Bind),
		})
	}

	validBackends := []string{"sqlite", "memory"}
	if cfg.Session.Backend != "" && !slices.Contains(validBackends, cfg.Session.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "session.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validBackends, cfg.Session.Backend),
		})
	}

	if cfg.Session.IdleMinutes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.idleMinutes",
			Message: "must not be negative",
		})
	}
	if cfg.Session.GraceMinutes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.graceMinutes",
			Message: "must not be negative",
		})
	}

	if cfg.Transcode.Container != "" && cfg.Transcode.Container != "wav" {
		issues = append(issues, ValidationIssue{
			Path:    "transcode.container",
			Message: fmt.Sprintf("only wav output is supported, got %q", cfg.Transcode.Container),
		})
	}
	if cfg.Transcode.SampleRate < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "transcode.sampleRate",
			Message: "must not be negative",
		})
	}
	if cfg.Transcode.Channels < 0 || cfg.Transcode.Channels > 2 {
		issues = append(issues, ValidationIssue{
			Path:    "transcode.channels",
			Message: fmt.Sprintf("must be 0, 1 or 2, got %d", cfg.Transcode.Channels),
		})
	}

	return issues
}
