// Package config describes the virtual files exposed by a mount and the
// options the mount is started with.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every error caused by malformed user input.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	// DefaultTimeout is how long cached attributes stay valid.
	DefaultTimeout = time.Second
	// DefaultHandshakeTimeout bounds how long a launcher waits for a
	// detached driver to report its mount status.
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultFSName is used when no fsname option is given.
	DefaultFSName = "rangefs"
	// Subtype is always reported to the kernel.
	Subtype = "rangefs"
	// MaxNameLen is the longest name a virtual file may have.
	MaxNameLen = 255
)

// VirtualFileConfig selects one byte range of a backing file.
// Optional fields are nil (or empty) when they should be derived from
// the backing file.
type VirtualFileConfig struct {
	File    string  `yaml:"file"`
	Name    string  `yaml:"name"`
	Offset  uint64  `yaml:"offset"`
	Size    *uint64 `yaml:"size"`
	UID     *uint32 `yaml:"uid"`
	GID     *uint32 `yaml:"gid"`
	Preload bool    `yaml:"preload"`
}

// ResolvedName returns the configured name, falling back to the backing
// file's base name.
func (c VirtualFileConfig) ResolvedName() string {
	if c.Name != "" {
		return c.Name
	}
	return filepath.Base(c.File)
}

// Validate checks that the resolved name can be listed in a flat
// directory and looked up again.
func (c VirtualFileConfig) Validate() error {
	return validateName(c.ResolvedName())
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') || len(name) > MaxNameLen {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidConfig, name)
	}
	return nil
}

// DerivedSize returns the explicit size or whatever remains of the
// backing file after the offset, never less than zero.
func (c VirtualFileConfig) DerivedSize(backingSize uint64) uint64 {
	if c.Size != nil {
		return *c.Size
	}
	return SubClamped(backingSize, c.Offset)
}

// SubClamped returns a-b, or 0 when b > a.
func SubClamped(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// MountConfig holds everything the launcher needs to start a mount.
type MountConfig struct {
	BackingFile        string
	MountPoint         string
	FSName             string
	Timeout            time.Duration
	HandshakeTimeout   time.Duration
	Foreground         bool
	Stdout             string
	Stderr             string
	AllowOther         bool
	DefaultPermissions bool
	Files              []VirtualFileConfig
}

// NewMountConfig returns a MountConfig populated with defaults.
func NewMountConfig() *MountConfig {
	return &MountConfig{
		FSName:           DefaultFSName,
		Timeout:          DefaultTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}
