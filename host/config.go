package host

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config of a Controller.
type Config struct {
	Storage        string `yaml:"storage"`         //root of the private dirs
	Package        string `yaml:"package"`         //asset name, also the staged file name
	LibrarySymbol  string `yaml:"library_symbol"`  //resolved for typed invocation
	ActivitySymbol string `yaml:"activity_symbol"` //resolved for reflective invocation
	BufferSize     int    `yaml:"buffer_size"`     //staging copy buffer
	Debug          bool   `yaml:"debug"`
}

// DefaultConfig stores under the user cache dir and stages the bundled catalog.
func DefaultConfig() Config {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return Config{
		Storage:        filepath.Join(dir, "secondary"),
		Package:        "secondary.yaml",
		LibrarySymbol:  "com.example.dex.lib.LibraryProvider",
		ActivitySymbol: "com.example.dex.second.SecondaryActivity",
		BufferSize:     8 * 1024,
	}
}

// LoadConfig read a YAML file over the defaults. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return c, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// PackageDir holds staged packages.
func (c Config) PackageDir() string {
	return filepath.Join(c.Storage, "dex")
}

// OutputDir holds loader derived artifacts.
func (c Config) OutputDir() string {
	return filepath.Join(c.Storage, "outdex")
}

// PackagePath is the staged location of the package.
func (c Config) PackagePath() string {
	return filepath.Join(c.PackageDir(), filepath.Base(c.Package))
}
