package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".qoldau"

// Paths holds resolved filesystem paths for qoldau data.
type Paths struct {
	Base   string // ~/.qoldau
	Config string // ~/.qoldau/config.yaml
	Data   string // ~/.qoldau/data
	Media  string // ~/.qoldau/media
	Logs   string // ~/.qoldau/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If QOLDAU_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("QOLDAU_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Media:  filepath.Join(base, "media"),
		Logs:   filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Media, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
