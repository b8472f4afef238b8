package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vk/trainspec/internal/app"
)

// Exit codes.
const (
	CodeOK      = 0
	CodeFailure = 1
	CodeUsage   = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: CodeUsage, Message: fmt.Sprintf(format, args...)}
}

// Execute runs the command line in args. Every returned error is an
// *ExitError carrying the process exit code.
func Execute(ctx context.Context, args []string, outW io.Writer) error {
	cmd := NewRootCommand(outW)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return &ExitError{Code: CodeUsage, Message: err.Error()}
	}
	return &ExitError{Code: CodeFailure, Message: err.Error()}
}

// NewRootCommand builds the trainspec command tree writing to outW.
func NewRootCommand(outW io.Writer) *cobra.Command {
	var cfg app.Config

	root := &cobra.Command{
		Use:           "trainspec",
		Short:         "Build and run training experiments from declarative run documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.LogLevel, "log-level", "info", "Logging level: debug, info, warn or error.")
	pf.StringVar(&cfg.LogFormat, "log-format", "text", "Log output format: text or json.")

	newApp := func(paths []string) (*app.App, error) {
		cfg.ConfigPaths = paths
		full, err := app.NewConfig(cfg)
		if err != nil {
			return nil, usageError("%v", err)
		}
		return app.New(outW, full), nil
	}

	root.AddCommand(newRunCmd(&cfg, newApp))
	root.AddCommand(newValidateCmd(newApp))
	root.AddCommand(newComponentsCmd(newApp))
	return root
}

func configArgs(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError("at least one CONFIG path is required")
	}
	return nil
}

func newRunCmd(cfg *app.Config, newApp func([]string) (*app.App, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] CONFIG...",
		Short: "Build the run described by the documents and execute its ops.",
		Args:  configArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(args)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.HealthcheckPort, "healthcheck-port", 0, "Port serving /health and /metrics. 0 is disabled.")
	f.StringVar(&cfg.MonitorURL, "monitor-url", "", "socket.io server receiving progress events.")
	f.StringVar(&cfg.MonitorNamespace, "monitor-namespace", "/", "socket.io namespace for progress events.")
	f.BoolVar(&cfg.MonitorInsecure, "monitor-insecure", false, "Skip TLS verification for the monitor connection.")
	f.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector for trace spans.")
	f.StringVar(&cfg.OutputDir, "output-dir", "", "Override the document's output_dir.")
	return cmd
}

func newValidateCmd(newApp func([]string) (*app.App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate CONFIG...",
		Short: "Check the documents without constructing anything.",
		Args:  configArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(args)
			if err != nil {
				return err
			}
			if err := a.Validate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newComponentsCmd(newApp func([]string) (*app.App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List every registered component and symbol.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			return a.Components(cmd.OutOrStdout())
		},
	}
}
