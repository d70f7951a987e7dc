// Package config owns the optional enginectl.toml file: its shape,
// loading with definedness tracking, validation, and template
// generation.
package config

import (
	"fmt"
	"os"
	"strings"

	bstoml "github.com/BurntSushi/toml"
	toml "github.com/pelletier/go-toml/v2"
)

// FileOptions is the enginectl.toml shape. Every field is optional;
// flags always win over file values.
type FileOptions struct {
	ProjectPath    string  `toml:"project_path"`
	ProjectName    string  `toml:"project_name"`
	MulticastGroup string  `toml:"multicast_group"`
	TimeoutSeconds float64 `toml:"timeout_seconds"`
	StatusAddr     string  `toml:"status_addr"`
	NoLaunch       bool    `toml:"no_launch"`
}

// Defined reports whether a key appeared in the file, so a file's
// explicit `no_launch = false` can be told apart from absence.
type Defined struct {
	meta bstoml.MetaData
}

func (d Defined) Has(key string) bool {
	return d.meta.IsDefined(key)
}

// Load parses and validates path.
func Load(path string) (FileOptions, Defined, error) {
	var opts FileOptions
	meta, err := bstoml.DecodeFile(path, &opts)
	if err != nil {
		return FileOptions{}, Defined{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return FileOptions{}, Defined{}, fmt.Errorf("config (%s): unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := Validate(opts); err != nil {
		return FileOptions{}, Defined{}, fmt.Errorf("config (%s): %w", path, err)
	}
	return opts, Defined{meta: meta}, nil
}

func Validate(opts FileOptions) error {
	if opts.MulticastGroup != "" && !strings.Contains(opts.MulticastGroup, ":") {
		return fmt.Errorf("multicast_group must be ip:port, got %q", opts.MulticastGroup)
	}
	if opts.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %v", opts.TimeoutSeconds)
	}
	return nil
}

// DefaultOptions is the template content for WriteTemplate.
func DefaultOptions() FileOptions {
	return FileOptions{
		MulticastGroup: "239.0.0.1:6766",
		TimeoutSeconds: 5,
	}
}

// WriteTemplate writes a starter enginectl.toml. Refuses to overwrite
// unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	body, err := toml.Marshal(DefaultOptions())
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}
