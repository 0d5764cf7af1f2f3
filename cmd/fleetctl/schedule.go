package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tenant_fleet_migrator/internal/fleet"
)

func scheduleCmd(a *app) *cobra.Command {
	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "List, add and cancel scheduled migrations",
	}
	schedule.AddCommand(scheduleListCmd(a), scheduleAddCmd(a), scheduleCancelCmd(a))
	return schedule
}

func scheduleListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled migrations that have not run yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Scheduled []fleet.ScheduledMigration `json:"scheduled"`
			}
			if err := a.client.do(cmd.Context(), http.MethodGet, "/migrations/scheduled", nil, "", &resp); err != nil {
				return err
			}
			if a.output == "json" {
				return a.printJSON(resp)
			}
			if len(resp.Scheduled) == 0 {
				fmt.Fprintln(a.out, "No scheduled migrations.")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTORE\tMODULE\tMIGRATION\tAT\tBY")
			for _, s := range resp.Scheduled {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.StoreID, orAll(s.ModuleName), orAll(s.MigrationName),
					s.ScheduledTime.Format(time.RFC3339), s.CreatedBy)
			}
			return tw.Flush()
		},
	}
}

func orAll(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func scheduleAddCmd(a *app) *cobra.Command {
	var (
		at        string
		in        time.Duration
		module    string
		migration string
	)
	cmd := &cobra.Command{
		Use:   "add STORE|all",
		Short: "Schedule an apply for later",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := scheduleTime(at, in, time.Now())
			if err != nil {
				return err
			}
			body := map[string]any{
				"storeId":       args[0],
				"moduleName":    module,
				"migrationName": migration,
				"scheduledTime": when,
			}
			var entry fleet.ScheduledMigration
			if err := a.client.do(cmd.Context(), http.MethodPost, "/migrations/scheduled", body, "", &entry); err != nil {
				return err
			}
			if a.output == "json" {
				return a.printJSON(entry)
			}
			fmt.Fprintf(a.out, "Scheduled %s for %s at %s\n", entry.ID, entry.StoreID, entry.ScheduledTime.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to run at")
	cmd.Flags().DurationVar(&in, "in", 0, "run after this delay instead of --at")
	cmd.Flags().StringVar(&module, "module", "", "only apply this module")
	cmd.Flags().StringVar(&migration, "migration", "", "stop after this migration (requires --module)")
	return cmd
}

func scheduleTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, errors.New("use either --at or --in")
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("--at: %w", err)
		}
		return t, nil
	case in > 0:
		return now.Add(in), nil
	default:
		return time.Time{}, errors.New("--at or --in is required")
	}
}

func scheduleCancelCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a scheduled migration before it runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "/migrations/scheduled/" + url.PathEscape(args[0])
			q := url.Values{}
			q.Set("action", string(fleet.PlanCancelSchedule))
			q.Set("schedule", args[0])

			cancel := func(token string) error {
				var resp struct {
					Message string `json:"message"`
				}
				if err := a.client.do(ctx, http.MethodDelete, path, nil, token, &resp); err != nil {
					return err
				}
				fmt.Fprintln(a.out, resp.Message)
				return nil
			}

			plan, err := a.plan(ctx, q)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Code == "schedule_not_found" {
				// Already dispatched entries cancel without a plan.
				return cancel("")
			}
			if err != nil {
				return err
			}
			return a.confirmed(ctx, plan, yes, cancel)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not prompt for confirmation")
	return cmd
}
