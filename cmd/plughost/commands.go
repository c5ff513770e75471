package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"plughost/internal/bootstrap"
	plugindto "plughost/internal/modules/plugin/dto"
	"plughost/internal/ui/confirm"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [plugin-id...]",
		Short: "Validate plugin manifests (every plugin directory when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			ids := args
			if len(ids) == 0 {
				if ids, err = app.Directory.List(cmd.Context()); err != nil {
					return err
				}
			}
			result := app.PluginCLI.Scan(cmd.Context(), ids)
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), result)
			}
			out := cmd.OutOrStdout()
			for _, p := range result.Plugins {
				status := "ok"
				if !p.Valid {
					status = "invalid"
				}
				_, _ = fmt.Fprintf(out, "%s@%s %s type=%s entry=%s\n", p.ID, p.Version, status, p.Type, p.Entry)
				for _, e := range p.Errors {
					_, _ = fmt.Fprintf(out, "  error: %s\n", e)
				}
				for _, w := range p.Warnings {
					_, _ = fmt.Fprintf(out, "  warning: %s\n", w)
				}
			}
			_, _ = fmt.Fprintf(out, "%d scanned, %d valid, %d invalid\n", result.Total, result.Valid, result.Invalid)
			return nil
		},
	}
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var keepLoaded bool
	cmd := &cobra.Command{
		Use:   "init [plugin-id...]",
		Short: "Load plugins (every enabled plugin when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			out := app.PluginCLI.Init(cmd.Context(), initInput(cmd, app, args, keepLoaded))
			return printInit(cmd, opts, out)
		},
	}
	cmd.Flags().BoolVar(&keepLoaded, "keep-loaded", false, "skip plugins that are already loaded")
	return cmd
}

func initInput(cmd *cobra.Command, app *bootstrap.App, ids []string, keepLoaded bool) plugindto.InitInput {
	input := plugindto.InitInput{PluginIDs: ids, AutoGrant: app.Config.AutoGrant, KeepLoaded: keepLoaded}
	if !input.AutoGrant {
		input.Confirm = confirmFunc(cmd, false)
	}
	return input
}

func printInit(cmd *cobra.Command, opts *rootOptions, out plugindto.InitOutput) error {
	if opts.jsonOut {
		return printJSON(cmd.OutOrStdout(), out)
	}
	w := cmd.OutOrStdout()
	for _, r := range out.Results {
		line := fmt.Sprintf("%s %s", r.PluginID, r.Status)
		if r.Reason != "" {
			line += ": " + r.Reason
		}
		_, _ = fmt.Fprintln(w, line)
	}
	_, _ = fmt.Fprintf(w, "%d total, %d loaded, %d failed, %d skipped\n", out.Total, out.Loaded, out.Failed, out.Skipped)
	return nil
}

func newInstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install <plugin-id...>",
		Short: "Install plugins after approving their permissions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			result := app.PluginCLI.Install(cmd.Context(), args, confirmFunc(cmd, app.Config.AutoGrant))
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), result)
			}
			for _, id := range result.Success {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", id)
			}
			for _, f := range result.Failed {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "failed %s: %s\n", f.PluginID, f.Reason)
			}
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d of %d plugins failed to install", len(result.Failed), len(args))
			}
			return nil
		},
	}
}

func newUninstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <plugin-id>",
		Short: "Unload a plugin, revoke its permissions and delete its install record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			var ask plugindto.UninstallConfirmFunc
			if !opts.yes {
				ask = confirm.LineUninstall(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			return printResult(cmd, opts, app.PluginCLI.Uninstall(cmd.Context(), args[0], ask))
		},
	}
}

func newToggleCmd(opts *rootOptions, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <plugin-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			return printResult(cmd, opts, app.PluginCLI.Toggle(cmd.Context(), args[0], enabled))
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			plugins, err := app.PluginCLI.Installed(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), plugins)
			}
			if len(plugins) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no plugins installed")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tVERSION\tENABLED\tPERMISSIONS")
			for _, p := range plugins {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.PluginID, p.Version, p.Enabled, strings.Join(p.GrantedPermissions, ","))
			}
			return tw.Flush()
		},
	}
}

func newSlotsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "Initialize enabled plugins and print what they render into each slot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			app.PluginCLI.Init(cmd.Context(), initInput(cmd, app, nil, false))
			slots := app.PluginCLI.Slots()
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"slots": slots, "styles": app.PluginCLI.Styles()})
			}
			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				_, _ = fmt.Fprintln(out, "no contributions")
			}
			for _, s := range slots {
				_, _ = fmt.Fprintf(out, "%s\n", s.Slot)
				for _, c := range s.Components {
					_, _ = fmt.Fprintf(out, "  component %s (%s)\n", c.Name, c.PluginID)
				}
				for _, a := range s.Actions {
					_, _ = fmt.Fprintf(out, "  action %s (%s)\n", a.Name, a.PluginID)
				}
			}
			for _, s := range app.PluginCLI.Styles() {
				_, _ = fmt.Fprintf(out, "style %s (%s)\n", s.Href, s.PluginID)
			}
			return nil
		},
	}
}

func newPermissionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "permissions",
		Short: "List every permission a plugin can request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			catalog := app.PluginCLI.Catalog()
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), catalog)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PERMISSION\tRISK\tDESCRIPTION")
			for _, p := range catalog {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Permission, p.Risk, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newGrantsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grants <plugin-id>",
		Short: "Show the permissions granted to a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrants(cmd, opts, args[0], nil)
		},
	}
}

func newGrantCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <plugin-id> <permission...>",
		Short: "Grant permissions to an installed plugin (category:* accepted)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrants(cmd, opts, args[0], func(ctx context.Context, app *bootstrap.App) error {
				return app.PluginCLI.Grant(ctx, args[0], args[1:])
			})
		},
	}
}

func newRevokeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <plugin-id> [permission...]",
		Short: "Revoke permissions from a plugin (all of them when none are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrants(cmd, opts, args[0], func(ctx context.Context, app *bootstrap.App) error {
				return app.PluginCLI.Revoke(ctx, args[0], args[1:])
			})
		},
	}
}

// withGrants syncs the ledger from the registry, applies change and prints
// the resulting grants.
func withGrants(cmd *cobra.Command, opts *rootOptions, pluginID string, change func(context.Context, *bootstrap.App) error) error {
	app, err := loadApp(cmd, opts)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.PluginCLI.SyncGrants(cmd.Context()); err != nil {
		return err
	}
	if change != nil {
		if err := change(cmd.Context(), app); err != nil {
			return err
		}
	}
	grants := app.PluginCLI.Grants(pluginID)
	if opts.jsonOut {
		return printJSON(cmd.OutOrStdout(), map[string]any{"pluginId": pluginID, "permissions": grants})
	}
	if len(grants) == 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s has no permissions\n", pluginID)
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", pluginID, strings.Join(grants, ", "))
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load enabled plugins and serve the host and registry APIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx, stop := signalContext()
			defer stop()
			// Prompts cannot block a server; only auto-granted or already
			// granted plugins load.
			input := plugindto.InitInput{AutoGrant: app.Config.AutoGrant}
			summary := app.PluginCLI.Init(ctx, input)
			app.Logger.Info("plugins initialized", "loaded", summary.Loaded, "failed", summary.Failed, "skipped", summary.Skipped)
			if watch {
				go func() {
					err := app.PluginCLI.Watch(ctx, input, func(event plugindto.RegistryEvent, out plugindto.InitOutput) {
						app.Logger.Info("registry change applied", "type", event.Type, "plugin", event.PluginID, "loaded", out.Loaded)
					})
					if err != nil && ctx.Err() == nil {
						app.Logger.Warn("registry watch stopped", "error", err)
					}
				}()
			}
			return app.Serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload plugins on registry changes")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load enabled plugins and re-initialize on every registry change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx, stop := signalContext()
			defer stop()
			input := plugindto.InitInput{AutoGrant: app.Config.AutoGrant}
			if err := printInit(cmd, opts, app.PluginCLI.Init(ctx, input)); err != nil {
				return err
			}
			err = app.PluginCLI.Watch(ctx, input, func(event plugindto.RegistryEvent, out plugindto.InitOutput) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", event.Type, event.PluginID)
				_ = printInit(cmd, opts, out)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Manage installed plugins in a terminal UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			app.PluginCLI.Init(cmd.Context(), plugindto.InitInput{AutoGrant: app.Config.AutoGrant})
			return bootstrap.RunTUI(app)
		},
	}
}
