package config

import (
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Ops.AuthToken = expandEnvVars(cfg.Ops.AuthToken)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. A missing file produces defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets QOLDAU_* variables override file values, for
// container deployments that ship no config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QOLDAU_OPS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ops.Port = port
		}
	}
	if v := os.Getenv("QOLDAU_OPS_TOKEN"); v != "" {
		cfg.Ops.AuthToken = v
	}
	if v := os.Getenv("QOLDAU_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("QOLDAU_FFMPEG"); v != "" {
		cfg.Transcode.Bin = v
	}
	if v := os.Getenv("QOLDAU_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QOLDAU_SESSION_BACKEND"); v != "" {
		cfg.Session.Backend = v
	}
}
