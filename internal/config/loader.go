package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"rangefs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("config")
)

// FileConfig is the on-disk YAML form of a mount description.
type FileConfig struct {
	// Timeout in whole seconds; nil keeps the command line value.
	Timeout *uint64             `yaml:"timeout"`
	Files   []VirtualFileConfig `yaml:"files"`
}

// LoadFile reads a YAML mount description. Relative backing file paths
// are resolved against the directory holding the config file.
func LoadFile(path string) (*FileConfig, error) {
	logger.Debug("Loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: config file %s is empty", ErrInvalidConfig, path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fc FileConfig
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrInvalidConfig, err)
	}

	base := filepath.Dir(path)
	for i := range fc.Files {
		f := &fc.Files[i]
		if f.File != "" && !filepath.IsAbs(f.File) {
			f.File = filepath.Join(base, f.File)
		}
		if f.Name != "" {
			if err := validateName(f.Name); err != nil {
				return nil, fmt.Errorf("%w (entry %d of %s)", err, i+1, path)
			}
		}
	}

	logger.Debug("Loaded %d file entries from %s", len(fc.Files), path)
	return &fc, nil
}

// Merge applies a loaded file on top of the command line configuration.
func (mc *MountConfig) Merge(fc *FileConfig) {
	if fc.Timeout != nil {
		mc.Timeout = time.Duration(*fc.Timeout) * time.Second
	}
	mc.Files = append(mc.Files, fc.Files...)
}
