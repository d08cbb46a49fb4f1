// Command graphsync checks entity models, prepares databases for them and
// loads or inspects object graphs through the commit pipeline.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var exitFunc = os.Exit

// main runs the command-line interface and exits with the status code
// returned by cli.
func main() {
	exitFunc(cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	config  string
	model   string
	verbose bool
	stdout  io.Writer
	stderr  io.Writer
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(&options{stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "graphsync: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	return 0
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "graphsync",
		Short:         "Object graph change tracking and commit synchronization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.config, "config", "", "path to a YAML configuration file")
	flags.StringVar(&opts.model, "model", "", "path to the YAML entity model (overrides the configuration)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newValidateCmd(opts),
		newDDLCmd(opts),
		newApplyCmd(opts),
		newLoadCmd(opts),
		newLogCmd(opts),
	)
	return root
}

// logger writes human readable logs to the command's stderr.
func (o *options) logger() *zap.Logger {
	level := zapcore.InfoLevel
	if o.verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(o.stderr), level)
	return zap.New(core).Named("graphsync")
}
