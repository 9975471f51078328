package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/layout"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage answer keys",
	Long: `Inspect, check and convert answer keys.

Keys are YAML, JSON or CSV files in --keys-dir (keys_dir in the
configuration), one file per sheet version. CSV keys have Subject,
Question,Answer rows and take their version from the file name. Without a
keys directory every layout grades against its demo key.`,
}

var keyListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List the loaded answer key versions",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(GetConfig())
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		for _, v := range p.Keys.Versions() {
			k, _ := p.Keys.Get(v)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\tlayout=%s\tquestions=%d\n", v, k.Layout.ID, k.Layout.TotalQuestions())
		}
		return nil
	},
}

var keyShowCmd = &cobra.Command{
	Use:          "show <version>",
	Short:        "Print a loaded answer key",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(GetConfig())
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		k, err := p.Keys.Get(args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		return writeKey(cmd.OutOrStdout(), k.Unbind(), answerkey.Format(format))
	},
}

var keyValidateCmd = &cobra.Command{
	Use:          "validate <file>...",
	Short:        "Check answer key files against their layout",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := keyRegistry()
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetString("key-version")
		failed := 0
		for _, path := range args {
			k, err := loadKey(reg, path, version)
			if err != nil {
				failed++
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: INVALID: %v\n", path, err)
				continue
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (version %s, layout %s)\n", path, k.Version, k.Layout.ID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d key files invalid", failed, len(args))
		}
		return nil
	},
}

var keyConvertCmd = &cobra.Command{
	Use:   "convert <input> <output>",
	Short: "Convert an answer key between YAML, JSON and CSV",
	Long: `Convert an answer key between YAML, JSON and CSV. The formats follow
the file extensions. The key is checked against its layout first.

Examples:
  omr key convert keys/A.csv keys/A.yaml
  omr key convert keys/B.yaml - --format csv`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := keyRegistry()
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetString("key-version")
		k, err := loadKey(reg, args[0], version)
		if err != nil {
			return err
		}

		out := args[1]
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			if out == "-" {
				format = string(answerkey.FormatYAML)
			} else {
				f, err := answerkey.FormatFromPath(out)
				if err != nil {
					return err
				}
				format = string(f)
			}
		}

		var buf bytes.Buffer
		if err := writeKey(&buf, k.Unbind(), answerkey.Format(format)); err != nil {
			return err
		}
		if out == "-" {
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		if err := os.WriteFile(out, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s key version %s to %s\n", strings.ToUpper(format), k.Version, out)
		return nil
	},
}

func keyRegistry() (*layout.Registry, error) {
	cfg := GetConfig()
	return layout.LoadRegistry(cfg.LayoutsDir, cfg.DefaultLayout)
}

// loadKey reads a key file and binds it to the layout it names.
func loadKey(reg *layout.Registry, path, version string) (*answerkey.Key, error) {
	k, err := answerkey.Load(path, version, reg.Default())
	if err != nil {
		return nil, err
	}
	l, err := reg.Get(k.Layout)
	if err != nil {
		return nil, err
	}
	return k.Bind(l)
}

func writeKey(w io.Writer, k *answerkey.AnswerKey, format answerkey.Format) error {
	switch format {
	case answerkey.FormatYAML, "":
		data, err := answerkey.MarshalYAML(k)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case answerkey.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(k)
	case answerkey.FormatCSV:
		return answerkey.WriteCSV(w, k)
	default:
		return fmt.Errorf("unsupported key format %q (want yaml, json or csv)", format)
	}
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyListCmd, keyShowCmd, keyValidateCmd, keyConvertCmd)

	keyShowCmd.Flags().StringP("format", "f", "yaml", "output format: yaml, json or csv")
	keyValidateCmd.Flags().StringP("key-version", "k", "", "version for CSV keys (default: file name)")
	keyConvertCmd.Flags().StringP("key-version", "k", "", "version for CSV keys (default: file name)")
	keyConvertCmd.Flags().StringP("format", "f", "", "output format (default: from the output file extension)")
}
