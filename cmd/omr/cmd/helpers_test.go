package cmd

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/answerkey"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/testutil"
)

// execute runs the root command with args and returns what it wrote to
// stdout; logs and progress go to stderr and are dropped. Flags are reset
// first since cobra keeps their values between runs.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
	resetFlags(rootCmd)
	globalConfig, configErr = nil, nil

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
		globalConfig, configErr = nil, nil
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// demoSheetFile writes a sheet filled in with the demo key of the default
// layout, which grades 100/100.
func demoSheetFile(t *testing.T, dir, name string) string {
	t.Helper()
	l := layout.DefaultLayout()
	k, err := answerkey.DefaultKey(l).Bind(l)
	require.NoError(t, err)

	answers := make([]int, l.TotalQuestions())
	for q := range answers {
		answers[q] = k.Accepted(q/l.QuestionsPerSubject, q%l.QuestionsPerSubject)[0]
	}
	spec := testutil.DefaultSheetSpec()
	spec.Marks = testutil.SingleMarks(answers)

	path := filepath.Join(dir, name)
	require.NoError(t, testutil.WritePNG(path, testutil.MustRender(t, spec)))
	return path
}
