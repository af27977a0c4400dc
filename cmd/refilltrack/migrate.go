package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/refilltrack/refilltrack/internal/database"
)

func runMigrate(cmd *cobra.Command, rt *runtime, status, down bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	m, err := database.NewMigrator(rt.db)
	if err != nil {
		return err
	}

	switch {
	case status:
		migrations, err := m.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tDESCRIPTION\tAPPLIED")
		for _, mig := range migrations {
			applied := "no"
			if mig.Applied {
				applied = mig.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%03d\t%s\t%s\n", mig.Version, mig.Description, applied)
		}
		return tw.Flush()

	case down:
		result, err := m.MigrateDown(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Rolled back to version %d\n", result.TargetVersion)
		return nil

	default:
		result, err := m.MigrateUp(ctx)
		if err != nil {
			return err
		}
		if len(result.Applied) == 0 {
			fmt.Fprintf(out, "Database is up to date at version %d\n", result.CurrentVersion)
			return nil
		}
		for _, mig := range result.Applied {
			fmt.Fprintf(out, "Applied %03d %s\n", mig.Version, mig.Description)
		}
		fmt.Fprintf(out, "Database is at version %d\n", result.TargetVersion)
		return nil
	}
}
