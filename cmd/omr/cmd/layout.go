package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omr/internal/layout"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Inspect and check sheet layouts",
	Long: `Inspect the sheet layouts known to omr and check layout files.

Layouts are read from --layouts-dir (or layouts_dir in the configuration);
the built-in "default" layout is always available.`,
}

var layoutListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List the available layouts",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		reg, err := layout.LoadRegistry(cfg.LayoutsDir, cfg.DefaultLayout)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tVERSION\tSUBJECTS\tQUESTIONS\tOPTIONS\tDEFAULT")
		for _, l := range reg.All() {
			def := ""
			if l.ID == reg.DefaultID() {
				def = "*"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
				l.ID, l.Version, len(l.Subjects), l.TotalQuestions(), l.OptionsPerQuestion, def)
		}
		return tw.Flush()
	},
}

var layoutShowCmd = &cobra.Command{
	Use:          "show [id]",
	Short:        "Print a layout as YAML",
	Long:         "Print a layout as YAML. Without an id the default layout is printed, which is a good start for a custom layout file.",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		reg, err := layout.LoadRegistry(cfg.LayoutsDir, cfg.DefaultLayout)
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		l, err := reg.Get(id)
		if err != nil {
			return err
		}
		data, err := layout.Marshal(l)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var layoutValidateCmd = &cobra.Command{
	Use:          "validate <file>...",
	Short:        "Check layout files",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			l, err := layout.Load(path)
			if err != nil {
				failed++
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: INVALID: %v\n", path, err)
				continue
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %d questions)\n", path, l.ID, l.TotalQuestions())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d layout files invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(layoutCmd)
	layoutCmd.AddCommand(layoutListCmd, layoutShowCmd, layoutValidateCmd)
}
