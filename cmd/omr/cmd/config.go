package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and inspect configuration files",
	Long: `Create and inspect omr configuration files.

Settings are resolved from defaults, the first omr.yaml found in the
search path (or --config), OMR_ environment variables and command line
flags, in increasing precedence.`,
}

var configInitCmd = &cobra.Command{
	Use:          "init [file]",
	Short:        "Write a configuration file with the defaults",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		file := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			file = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := config.GenerateDefaultConfigFile(file, force); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", file)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the effective configuration",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Marshal(*GetConfig())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show which configuration file is used and where omr looks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		used := GetConfigLoader().GetConfigFileUsed()
		if used == "" {
			used = "(none, using defaults)"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", used)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Search path: %s\n", strings.Join(config.GetConfigSearchPaths(), ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}
