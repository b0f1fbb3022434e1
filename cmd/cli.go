// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"kwdetect/internal/audio"
	"kwdetect/internal/config"
	"kwdetect/internal/detector"
	applog "kwdetect/internal/log"
	"kwdetect/internal/transport"
	"kwdetect/pkg/build"
)

// RunFunc runs the node with the final configuration.
type RunFunc func(ctx context.Context, cfg *config.Config) error

// Options are the command line overrides applied on top of the loaded
// configuration. Only flags that were set take effect.
type Options struct {
	ConfigPath    string
	ModelsDir     string
	AccessKeyFile string
	Verbose       bool
	Microphone    bool
	DeviceID      int
	LowLatency    bool
	Record        bool
	OutputFile    string
}

// NewRootCommand builds the command tree. The root command loads the
// configuration and hands it to run.
func NewRootCommand(run RunFunc) *cobra.Command {
	buildInfo := build.GetBuildFlags()
	options := &Options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, options)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(newListCommand(options), newSendCommand())

	// Configuration
	rootCmd.PersistentFlags().StringVarP(&options.ConfigPath, "config", "f", "",
		"Path to the YAML configuration file (default: ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVarP(&options.ModelsDir, "models", "m", config.DefaultModelsDir,
		"Directory containing the keyword model files")
	rootCmd.PersistentFlags().StringVarP(&options.AccessKeyFile, "access-key-file", "k", config.DefaultAccessKeyFile,
		"File holding the detection engine access key")

	// Microphone Configuration
	rootCmd.Flags().BoolVar(&options.Microphone, "mic", false,
		"Capture audio from a local input device instead of waiting for a remote producer")
	rootCmd.Flags().IntVarP(&options.DeviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	rootCmd.Flags().BoolVarP(&options.LowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")

	// Recording Configuration
	rootCmd.Flags().BoolVarP(&options.Record, "record", "r", false,
		"Record captured microphone audio to a WAV file")
	rootCmd.Flags().StringVarP(&options.OutputFile, "output", "o", "",
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")

	// Debug Configuration
	rootCmd.PersistentFlags().BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	return rootCmd
}

// loadConfig loads the configuration file and applies the flags that were
// set on the command line, then configures logging.
func loadConfig(cmd *cobra.Command, options *Options) (*config.Config, error) {
	cfg, err := config.LoadConfig(options.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, options, cfg)
	configureLogging(cfg, options.Verbose)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, options *Options, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("models") {
		cfg.Models.Dir = options.ModelsDir
	}
	if changed("access-key-file") {
		cfg.Models.AccessKeyFile = options.AccessKeyFile
	}
	if changed("mic") {
		cfg.Microphone.Enabled = options.Microphone
	}
	if changed("device") {
		cfg.Microphone.InputDevice = options.DeviceID
	}
	if changed("low-latency") {
		cfg.Microphone.LowLatency = options.LowLatency
	}
	if changed("record") {
		cfg.Microphone.Record = options.Record
	}
	if changed("output") {
		cfg.Microphone.OutputFile = options.OutputFile
	}

	// Defaults
	if cfg.Microphone.Record && cfg.Microphone.OutputFile == "" {
		cfg.Microphone.OutputFile = "recording-" +
			time.Now().UTC().Format("02-01-2006-150405") +
			"." + config.DefaultFormat
	}
}

func configureLogging(cfg *config.Config, verbose bool) {
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	} else {
		applog.Warnf("Unknown log level %q, keeping %s", cfg.LogLevel, applog.GetLevel())
	}
	if verbose || cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	}
}

func newListCommand(options *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keyword models and available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, options)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			listModels(out, cfg)

			devices, err := audio.GetDevices()
			if err != nil {
				fmt.Fprintf(out, "\nAudio devices unavailable: %v\n", err)
				return nil
			}
			audio.ListDevices(out, devices)
			return nil
		},
	}
}

func listModels(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Keyword models in %s\n\n", cfg.Models.Dir)
	models, err := detector.DiscoverModels(cfg.Models.Dir, cfg.Models.Extension)
	if err != nil {
		fmt.Fprintf(w, "  %v\n", err)
		return
	}
	for i, m := range models {
		fmt.Fprintf(w, "[%d] %s (%s)\n", i, m.Name, m.Path)
	}
}

func newSendCommand() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send a start or stop command to a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := transport.SendCommand(ctx, url, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %q to %s\n", args[0], url)
			return nil
		},
	}
	cmd.Flags().StringVarP(&url, "url", "u", "ws://localhost:8080/events",
		"WebSocket events endpoint of the node")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second,
		"Connection timeout")
	return cmd
}
