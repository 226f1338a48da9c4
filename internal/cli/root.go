// Package cli implements threatctl, the offline companion to the scoring
// server: score activity CSVs and generate synthetic ones.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbd888/threatscore/internal/logging"
)

// Version is set by cmd/threatctl from ldflags.
var Version = "dev"

type app struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "threatctl",
		Short:         "Score user activity logs for insider threats",
		Long:          "threatctl scores activity CSV files with the rule or anomaly engine and generates synthetic activity for testing.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs go to stderr; stdout carries CSV.
			a.logger = logging.NewWithWriter(a.logLevel, a.logFormat, a.stderr)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newScoreCmd(a),
		newSimulateCmd(a),
	)
	return cmd
}

// openInput returns stdin for "-" or an empty path.
func (a *app) openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(a.stdin), nil
	}
	return os.Open(path)
}

// createOutput returns stdout for "-" or an empty path.
func (a *app) createOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{a.stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
