package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"tenant_fleet_migrator/internal/fleet"
)

func settingsCmd(a *app) *cobra.Command {
	settings := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the fleet migration policy",
	}
	settings.AddCommand(settingsGetCmd(a), settingsSetCmd(a))
	return settings
}

func (a *app) getSettings(cmd *cobra.Command) (fleet.MigrationSettings, error) {
	var s fleet.MigrationSettings
	err := a.client.do(cmd.Context(), http.MethodGet, "/migrations/settings", nil, "", &s)
	return s, err
}

func (a *app) printSettings(s fleet.MigrationSettings) error {
	if a.output == "json" {
		return a.printJSON(s)
	}
	fmt.Fprintf(a.out, "auto-apply:        %t\n", s.AutoApplyMigrations)
	fmt.Fprintf(a.out, "notify-on-success: %t\n", s.NotifyOnSuccess)
	fmt.Fprintf(a.out, "notify-on-error:   %t\n", s.NotifyOnError)
	fmt.Fprintf(a.out, "backup-first:      %t\n", s.BackupBeforeMigration)
	fmt.Fprintf(a.out, "timeout-seconds:   %d\n", s.MigrationTimeoutSeconds)
	return nil
}

func settingsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.getSettings(cmd)
			if err != nil {
				return err
			}
			return a.printSettings(s)
		},
	}
}

// settingsSetCmd reads the current policy, changes the flags given and
// writes the whole record back.
func settingsSetCmd(a *app) *cobra.Command {
	var next fleet.MigrationSettings
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change policy fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := a.getSettings(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("auto-apply") {
				current.AutoApplyMigrations = next.AutoApplyMigrations
			}
			if flags.Changed("notify-on-success") {
				current.NotifyOnSuccess = next.NotifyOnSuccess
			}
			if flags.Changed("notify-on-error") {
				current.NotifyOnError = next.NotifyOnError
			}
			if flags.Changed("backup-first") {
				current.BackupBeforeMigration = next.BackupBeforeMigration
			}
			if flags.Changed("timeout-seconds") {
				current.MigrationTimeoutSeconds = next.MigrationTimeoutSeconds
			}
			var saved fleet.MigrationSettings
			if err := a.client.do(cmd.Context(), http.MethodPut, "/migrations/settings", current, "", &saved); err != nil {
				return err
			}
			return a.printSettings(saved)
		},
	}
	cmd.Flags().BoolVar(&next.AutoApplyMigrations, "auto-apply", false, "apply pending migrations automatically")
	cmd.Flags().BoolVar(&next.NotifyOnSuccess, "notify-on-success", false, "notify after successful applies")
	cmd.Flags().BoolVar(&next.NotifyOnError, "notify-on-error", false, "notify after failed applies")
	cmd.Flags().BoolVar(&next.BackupBeforeMigration, "backup-first", false, "back up a store before migrating it")
	cmd.Flags().IntVar(&next.MigrationTimeoutSeconds, "timeout-seconds", 0, "apply ceiling in seconds, 0 for the server default")
	return cmd
}
