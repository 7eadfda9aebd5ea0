// Package config loads the settings of the pdbdump tool from a YAML, JSON
// or TOML file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Conf is the tool configuration.
type Conf struct {
	SearchPaths []string    `yaml:"search_paths" json:"search_paths" toml:"search_paths"`
	NoPublics   bool        `yaml:"no_publics" json:"no_publics" toml:"no_publics"`
	Log         LogConf     `yaml:"log" json:"log" toml:"log"`
	Locator     LocatorConf `yaml:"locator" json:"locator" toml:"locator"`
}

// LogConf selects the logger level and layout.
type LogConf struct {
	Level       string `yaml:"level" json:"level" toml:"level"`
	Encoding    string `yaml:"encoding" json:"encoding" toml:"encoding"`
	Development bool   `yaml:"development" json:"development" toml:"development"`
}

// LocatorConf tunes the PDB file locator.
type LocatorConf struct {
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Conf {
	return &Conf{
		Log:     LogConf{Level: "warn", Encoding: "console"},
		Locator: LocatorConf{CacheSize: 64},
	}
}

// Load reads path over the defaults. The decoder is picked by extension;
// files without a known extension are tried as TOML, then YAML. An empty
// path returns the defaults.
func Load(path string) (*Conf, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		_, err = toml.Decode(string(data), &raw)
	default:
		if _, err = toml.Decode(string(data), &raw); err != nil {
			raw = make(map[string]any)
			err = yaml.Unmarshal(data, &raw)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}

	if err := decode(raw, conf); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return conf, nil
}

// decode copies raw onto conf. Scalars are converted loosely and a string
// search path list is split on semicolons.
func decode(raw map[string]any, conf *Conf) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           conf,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(";"),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
