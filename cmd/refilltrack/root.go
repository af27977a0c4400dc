package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/refilltrack/refilltrack/internal/services/inventory"
	"github.com/refilltrack/refilltrack/internal/tui"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "refilltrack",
		Short:         "Track a medication supply and get reminded to refill it",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&opts.at, "at", "", "Pin the current time (RFC3339) instead of using the wall clock")

	root.AddCommand(
		newStatusCmd(opts),
		newTakeCmd(opts),
		newRequestCmd(opts),
		newReceiveCmd(opts),
		newEvaluateCmd(opts),
		newHistoryCmd(opts),
		newPendingCmd(opts),
		newResetCmd(opts),
		newWatchCmd(opts),
		newTUICmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)

	return root
}

// withRuntime opens a fully migrated runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, opts *globalOptions, fn func(rt *runtime) error) error {
	rt, err := setup(cmd.Context(), opts, cmd.ErrOrStderr(), setupFull, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the supply forecast and reminder state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				status, err := rt.svc.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeStatusJSON(cmd.OutOrStdout(), status)
				}
				printStatus(cmd.OutOrStdout(), rt.cfg, status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the inventory state and forecast as JSON")

	return cmd
}

// mutation runs a service command and prints its outcome. Channel failures
// are warnings; a persistence failure fails the command after printing.
func mutation(opts *globalOptions, fn func(cmd *cobra.Command, args []string, svc *inventory.Service) (*inventory.Result, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, opts, func(rt *runtime) error {
			result, err := fn(cmd, args, rt.svc)

			var persistErr *inventory.PersistError
			if err != nil && !errors.As(err, &persistErr) {
				return err
			}

			printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), rt.cfg, result)
			return err
		})
	}
}

func newTakeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "take",
		Short: "Log one dose",
		Args:  cobra.NoArgs,
		RunE: mutation(opts, func(cmd *cobra.Command, _ []string, svc *inventory.Service) (*inventory.Result, error) {
			return svc.TakeDose(cmd.Context())
		}),
	}
}

func newRequestCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "request",
		Short: "Log that a refill was requested",
		Args:  cobra.NoArgs,
		RunE: mutation(opts, func(cmd *cobra.Command, _ []string, svc *inventory.Service) (*inventory.Result, error) {
			result, err := svc.RequestRefill(cmd.Context())
			if err == nil && !result.Changed {
				fmt.Fprintln(cmd.OutOrStdout(), "A refill is already requested.")
			}
			return result, err
		}),
	}
}

func newReceiveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "receive COUNT",
		Short: "Log a received refill; COUNT is the new total pill count",
		Args:  cobra.ExactArgs(1),
		RunE: mutation(opts, func(cmd *cobra.Command, args []string, svc *inventory.Service) (*inventory.Result, error) {
			count, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("invalid pill count %q", args[0])
			}
			return svc.ReceiveRefill(cmd.Context(), count)
		}),
	}
}

func newEvaluateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Re-evaluate and reschedule reminders",
		Args:  cobra.NoArgs,
		RunE: mutation(opts, func(cmd *cobra.Command, _ []string, svc *inventory.Service) (*inventory.Result, error) {
			return svc.Evaluate(cmd.Context())
		}),
	}
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List refill requests and receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				events, err := rt.svc.History(cmd.Context())
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), rt.cfg, events)
				return nil
			})
		},
	}
}

func newPendingCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List scheduled reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				notifications, err := rt.notifications.List(cmd.Context())
				if err != nil {
					return err
				}
				printNotifications(cmd.OutOrStdout(), rt.cfg, notifications)
				return nil
			})
		},
	}
}

func newResetCmd(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the inventory and refill history and cancel all reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset erases all refill history; rerun with --yes to confirm")
			}
			return mutation(opts, func(cmd *cobra.Command, _ []string, svc *inventory.Service) (*inventory.Result, error) {
				return svc.Reset(cmd.Context())
			})(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")

	return cmd
}

func newTUICmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive dashboard (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}
}

func runTUI(cmd *cobra.Command, opts *globalOptions) error {
	rt, err := setup(cmd.Context(), opts, cmd.ErrOrStderr(), setupFull, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	tui.Version = Version
	tui.BuildTime = BuildTime

	rt.logger.Info("starting dashboard", "simulated_clock", opts.at != "")
	if err := tui.Run(cmd.Context(), rt.svc, rt.notifications, rt.cfg, rt.clock); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	var status, down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status && down {
				return errors.New("--status and --down are mutually exclusive")
			}

			rt, err := setup(cmd.Context(), opts, cmd.ErrOrStderr(), setupDatabaseOnly, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runMigrate(cmd, rt, status, down)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "List migrations and whether they are applied")
	cmd.Flags().BoolVar(&down, "down", false, "Roll back the newest migration")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "refilltrack version %s (built %s)\n", Version, BuildTime)
		},
	}
}
