package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clpipe/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clpipe",
	Short: "OpenCL host harness for validated kernel dispatch",
	Long: `clpipe opens an OpenCL device, builds kernel programs, moves data in and
out of device buffers and dispatches kernels with work geometry validated
against the device limits. Every resource is released in reverse order of
creation, whatever the outcome.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		// Results go to stdout, logs to stderr.
		opts := &slog.HandlerOptions{Level: cfg.Level()}
		var handler slog.Handler
		if cfg.LogFormat == "text" {
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	d := config.Default()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./clpipe.yaml or $HOME/.clpipe/clpipe.yaml)")
	flags.String("backend", d.Backend, "Compute backend (opencl, emulator)")
	flags.String("device", d.Device, "Device class (gpu, cpu, accelerator, any)")
	flags.Int("platform", d.Platform, "Platform index to use (-1 scans all platforms)")
	flags.Bool("fallback", d.Fallback, "Fall back from GPU to CPU to any device")
	flags.String("build-options", d.BuildOptions, "Options passed to the kernel compiler")
	flags.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	flags.String("log-format", d.LogFormat, "Log format (json, text)")
	flags.String("data-dir", d.DataDir, "Base directory for run records")
	flags.Bool("no-record", d.NoRecord, "Do not store a run record")
}
