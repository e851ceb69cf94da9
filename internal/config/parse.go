package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseRange parses one colon separated range description such as
// "name=boot:offset=1048576:size=4096:preload" for the given backing file.
func ParseRange(spec, file string) (VirtualFileConfig, error) {
	cfg := VirtualFileConfig{File: file}
	if spec == "" {
		return cfg, fmt.Errorf("%w: empty range", ErrInvalidConfig)
	}

	seen := make(map[string]bool)
	for _, token := range strings.Split(spec, ":") {
		key, value, hasValue := strings.Cut(token, "=")
		if key == "" {
			return cfg, fmt.Errorf("%w: malformed token %q in range %q", ErrInvalidConfig, token, spec)
		}
		if seen[key] {
			return cfg, fmt.Errorf("%w: duplicate key %q in range %q", ErrInvalidConfig, key, spec)
		}
		seen[key] = true

		if key == "preload" {
			if hasValue {
				return cfg, fmt.Errorf("%w: preload takes no value in range %q", ErrInvalidConfig, spec)
			}
			cfg.Preload = true
			continue
		}
		if !hasValue || value == "" {
			return cfg, fmt.Errorf("%w: missing value for %q in range %q", ErrInvalidConfig, key, spec)
		}

		var err error
		switch key {
		case "name":
			if err := validateName(value); err != nil {
				return cfg, err
			}
			cfg.Name = value
		case "offset":
			cfg.Offset, err = strconv.ParseUint(value, 10, 64)
		case "size":
			var size uint64
			size, err = strconv.ParseUint(value, 10, 64)
			cfg.Size = &size
		case "uid":
			cfg.UID, err = parseID(value)
		case "gid":
			cfg.GID, err = parseID(value)
		default:
			return cfg, fmt.Errorf("%w: unknown key %q in range %q", ErrInvalidConfig, key, spec)
		}
		if err != nil {
			return cfg, fmt.Errorf("%w: bad value for %q: %v", ErrInvalidConfig, key, err)
		}
	}
	return cfg, nil
}

func parseID(value string) (*uint32, error) {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return nil, err
	}
	id := uint32(n)
	return &id, nil
}

// ParseTimeout parses a whole number of seconds.
func ParseTimeout(value string) (time.Duration, error) {
	secs, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad timeout %q: %v", ErrInvalidConfig, value, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// ApplyMountOptions applies a comma separated option string in the format
// mount(8) passes to mount helpers. Range specs given through "range=" are
// space separated and replace any ranges set before.
func (mc *MountConfig) ApplyMountOptions(opts string) ([]string, error) {
	var ranges []string
	for _, opt := range strings.Split(opts, ",") {
		if opt == "" {
			continue
		}
		key, value, _ := strings.Cut(opt, "=")
		switch key {
		case "allow_other":
			mc.AllowOther = true
		case "default_permissions":
			mc.DefaultPermissions = true
		case "ro", "rw", "dev", "nodev", "suid", "nosuid", "exec", "noexec", "atime", "noatime",
			"sync", "async", "dirsync", "auto", "noauto", "user", "nouser", "_netdev":
			// The mount is always read-only; the rest are handled by mount(8).
		case "allow_root", "auto_unmount":
			return nil, fmt.Errorf("%w: mount option %q is not supported by this FUSE binding", ErrInvalidConfig, key)
		case "fsname":
			mc.FSName = value
		case "subtype":
			if value != Subtype {
				return nil, fmt.Errorf("%w: unsupported subtype %q", ErrInvalidConfig, value)
			}
		case "file":
			mc.BackingFile = value
		case "range":
			ranges = strings.Fields(value)
		case "timeout":
			t, err := ParseTimeout(value)
			if err != nil {
				return nil, err
			}
			mc.Timeout = t
		case "stdout":
			mc.Stdout = value
		case "stderr":
			mc.Stderr = value
		default:
			return nil, fmt.Errorf("%w: unknown mount option %q", ErrInvalidConfig, opt)
		}
	}
	return ranges, nil
}

// Finalize resolves range specs against the backing file and validates the
// mount point. With no ranges configured the whole backing file is exposed.
func (mc *MountConfig) Finalize(ranges []string) error {
	for _, spec := range ranges {
		if mc.BackingFile == "" {
			return fmt.Errorf("%w: no backing file for range %q", ErrInvalidConfig, spec)
		}
		cfg, err := ParseRange(spec, mc.BackingFile)
		if err != nil {
			return err
		}
		mc.Files = append(mc.Files, cfg)
	}

	for i := range mc.Files {
		if mc.Files[i].File == "" {
			mc.Files[i].File = mc.BackingFile
		}
		if mc.Files[i].File == "" {
			return fmt.Errorf("%w: no backing file for %q", ErrInvalidConfig, mc.Files[i].Name)
		}
	}

	if len(mc.Files) == 0 {
		if mc.BackingFile == "" {
			return fmt.Errorf("%w: no source file specified", ErrInvalidConfig)
		}
		mc.Files = []VirtualFileConfig{{File: mc.BackingFile}}
	}
	for _, f := range mc.Files {
		if err := f.Validate(); err != nil {
			return err
		}
	}

	if mc.MountPoint == "" {
		return fmt.Errorf("%w: no mount point specified", ErrInvalidConfig)
	}
	info, err := os.Stat(mc.MountPoint)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: mount point %q doesn't exist or isn't a directory", ErrInvalidConfig, mc.MountPoint)
	}
	return nil
}
