package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"plughost/internal/bootstrap"
	plugindto "plughost/internal/modules/plugin/dto"
	"plughost/internal/platform/config"
	"plughost/internal/ui/confirm"
)

type rootOptions struct {
	dataDir    string
	configPath string
	jsonOut    bool
	yes        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "plughost",
		Short:         "Load, sandbox and manage host plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data", ".", "data directory holding plugins/ and .plughost/")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default <data>/plughost.yaml)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")
	root.PersistentFlags().BoolVarP(&opts.yes, "yes", "y", false, "approve permission requests without asking")

	root.AddCommand(
		newScanCmd(opts),
		newInitCmd(opts),
		newInstallCmd(opts),
		newUninstallCmd(opts),
		newToggleCmd(opts, "enable", true),
		newToggleCmd(opts, "disable", false),
		newListCmd(opts),
		newSlotsCmd(opts),
		newPermissionsCmd(opts),
		newGrantsCmd(opts),
		newGrantCmd(opts),
		newRevokeCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newTUICmd(opts),
	)
	return root
}

func loadApp(cmd *cobra.Command, opts *rootOptions) (*bootstrap.App, error) {
	cfg, err := config.Load(opts.dataDir, opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.yes {
		cfg.AutoGrant = true
	}
	return bootstrap.New(cfg, cmd.ErrOrStderr())
}

// confirmFunc picks the permission prompt for this invocation: none with
// --yes, the full-screen prompt on a terminal, a line prompt otherwise.
func confirmFunc(cmd *cobra.Command, autoGrant bool) plugindto.ConfirmFunc {
	if autoGrant {
		return confirm.AutoApprove()
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return confirm.Terminal(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	return confirm.Line(cmd.InOrStdin(), cmd.ErrOrStderr())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(cmd *cobra.Command, opts *rootOptions, res plugindto.LifecycleResult) error {
	if opts.jsonOut {
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	}
	if !res.Success {
		return fmt.Errorf("operation did not complete")
	}
	return nil
}
