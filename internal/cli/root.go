// Package cli implements the rangefs command line.
package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"rangefs/internal/config"
	"rangefs/internal/handshake"
	"rangefs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("cli")

	version = "dev"
)

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	version = v
}

type options struct {
	ranges           []string
	configFile       string
	timeout          uint64
	foreground       bool
	stdout           string
	stderr           string
	allowOther       bool
	handshakeTimeout time.Duration
	mountOptions     string
	verbose          int
}

func newRootCmd() *cobra.Command {
	return newCommand(&options{})
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rangefs [flags] <backing-file> <mount-point>",
		Short: "Expose byte ranges of a file as read-only files",
		Long: `Mounts a read-only filesystem whose files are byte ranges of a backing
file. Without any range the whole backing file is exposed under its own name.

Ranges are colon separated key=value lists. Recognized keys are name,
offset, size, uid and gid, plus the flag preload which reads the range
into memory at startup.

By default rangefs detaches from the terminal and returns once the mount
is usable. It can also be used as a mount helper for the fuse.rangefs type.

Examples:
  rangefs disk.img /mnt/disk -r name=mbr:size=512
  rangefs disk.img /mnt/disk -r name=boot:offset=1048576:size=268435456 -r name=root:offset=269484032
  mount -t fuse.rangefs disk.img /mnt/disk -o allow_other,range=name=mbr:size=512`,
		Args:          cobra.ExactArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetVersionTemplate("rangefs version {{.Version}}\n")

	f := cmd.Flags()
	f.StringArrayVarP(&opts.ranges, "range", "r", nil, "Range to expose, e.g. name=part1:offset=512:size=1024 (repeatable)")
	f.StringVarP(&opts.configFile, "config", "c", "", "YAML file listing the ranges to expose")
	f.Uint64VarP(&opts.timeout, "timeout", "t", uint64(config.DefaultTimeout/time.Second), "Metadata cache timeout in seconds")
	f.BoolVar(&opts.foreground, "foreground", false, "Stay in the foreground until unmounted")
	f.StringVar(&opts.stdout, "stdout", "", "Redirect stdout to file (background mode only)")
	f.StringVar(&opts.stderr, "stderr", "", "Redirect stderr to file (background mode only)")
	f.BoolVar(&opts.allowOther, "allow-other", false, "Allow other users to access the mount")
	f.DurationVar(&opts.handshakeTimeout, "handshake-timeout", config.DefaultHandshakeTimeout, "How long to wait for the background mount (0 waits forever)")
	f.StringVarP(&opts.mountOptions, "options", "o", "", "Comma separated mount options, as passed by mount(8)")
	f.CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (repeat for trace output)")
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func applyVerbosity(count int) {
	switch {
	case count >= 2:
		logging.GetLogger().SetLevel(logging.LevelTrace)
	case count == 1:
		logging.GetLogger().SetLevel(logging.LevelDebug)
	}
}

// buildConfig assembles the mount configuration. Later sources win:
// defaults, the config file, -o options, then explicit flags.
func buildConfig(cmd *cobra.Command, opts *options, args []string) (*config.MountConfig, error) {
	mc := config.NewMountConfig()
	mc.BackingFile = args[0]
	mc.MountPoint = args[1]

	if opts.configFile != "" {
		fc, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		mc.Merge(fc)
	}

	ranges := opts.ranges
	if opts.mountOptions != "" {
		mc.FSName = args[0]
		optRanges, err := mc.ApplyMountOptions(opts.mountOptions)
		if err != nil {
			return nil, err
		}
		if len(optRanges) > 0 {
			ranges = optRanges
		}
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		mc.Timeout = time.Duration(opts.timeout) * time.Second
	}
	if flags.Changed("stdout") {
		mc.Stdout = opts.stdout
	}
	if flags.Changed("stderr") {
		mc.Stderr = opts.stderr
	}
	mc.AllowOther = mc.AllowOther || opts.allowOther
	mc.Foreground = opts.foreground
	mc.HandshakeTimeout = opts.handshakeTimeout

	mountPoint, err := filepath.Abs(mc.MountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mount point: %w", err)
	}
	mc.MountPoint = mountPoint

	if err := mc.Finalize(ranges); err != nil {
		return nil, err
	}
	logger.Debug("Configured %d files from %s at %s (timeout %v)", len(mc.Files), mc.BackingFile, mc.MountPoint, mc.Timeout)
	return mc, nil
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	applyVerbosity(opts.verbose)

	sender, detached, err := handshake.FromEnv()
	if err != nil {
		return err
	}

	mc, cfgErr := buildConfig(cmd, opts, args)
	if detached {
		defer sender.Close()
		if cfgErr != nil {
			reportFailure(sender, cfgErr)
			return cfgErr
		}
		return serve(cmd.Context(), mc, sender)
	}
	if cfgErr != nil {
		return cfgErr
	}

	if mc.Foreground {
		return serve(cmd.Context(), mc, nil)
	}
	return launch(cmd.Context(), mc)
}
