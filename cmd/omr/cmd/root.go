package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/omr/internal/config"
	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Error from the last configuration load, reported by PersistentPreRunE.
	configErr error
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "omr",
	Short: "Optical mark recognition for multiple-choice answer sheets",
	Long: `omr grades photographed or scanned multiple-choice answer sheets.

It finds the sheet in the image, straightens it, reads every bubble,
resolves one answer per question and scores the sheet against an answer
key. Sheets that need a human look (double marks, blanks, uncertain
readings) are flagged instead of guessed.

This tool provides:
- Single sheet grading from images and PDFs
- Parallel batch grading of directories, globs and S3 prefixes
- An HTTP API with batch and WebSocket endpoints
- Layout and answer key tooling

Examples:
  omr grade sheet.jpg --key-version A
  omr batch scans/ --format csv --output results.csv
  omr serve --port 8080`,
	Version: version.String(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
// This allows tests to execute commands without calling os.Exit().
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags that apply to all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is search in ., $HOME/.config/omr, $HOME, /etc/omr)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("layouts-dir", "", "directory of sheet layout files (default: built-in layout)")
	rootCmd.PersistentFlags().String("keys-dir", "", "directory of answer key files (default: demo key)")
	rootCmd.PersistentFlags().String("default-layout", "", "layout used when none is requested")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if globalConfig == nil && configErr == nil {
			initConfig()
		}
		if configErr != nil {
			return configErr
		}

		logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: logLevel(globalConfig),
		}))
		slog.SetDefault(logger)
		return nil
	}
}

// logLevel maps the configured level; --verbose wins.
func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// bindFlags binds the global flags to v.
func bindFlags(v *viper.Viper) {
	flags := rootCmd.PersistentFlags()
	_ = v.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("layouts_dir", flags.Lookup("layouts-dir"))
	_ = v.BindPFlag("keys_dir", flags.Lookup("keys-dir"))
	_ = v.BindPFlag("default_layout", flags.Lookup("default-layout"))
}

// initConfig reads in config file and ENV variables if set. Every run
// starts from a fresh viper instance.
func initConfig() {
	v := viper.New()
	bindFlags(v)
	configLoader = config.NewLoaderWithViper(v)
	globalConfig, configErr = configLoader.LoadWithFile(cfgFile)
	if configErr != nil {
		configErr = fmt.Errorf("error loading configuration: %w", configErr)
	}
}

// GetConfig returns the effective configuration, including flags bound
// after the initial load.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
		if configErr != nil {
			d := config.DefaultConfig()
			return &d
		}
	}

	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		slog.Warn("Error unmarshaling updated configuration", "error", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

// buildPipeline creates a grading pipeline from the effective configuration.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	p, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build grading pipeline: %w", err)
	}
	return p, nil
}
