package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/registry"
)

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending migrations across the fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status fleet.CentralStatus
			if err := a.client.do(cmd.Context(), http.MethodGet, "/migrations/central-status", nil, "", &status); err != nil {
				return err
			}
			if a.output == "json" {
				return a.printJSON(status)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STORE\tKIND\tPENDING\tSTATE\tERROR")
			rows := append([]fleet.StoreStatus{status.Master, status.Alerts}, status.Tenants.Stores...)
			for _, s := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.StoreID, s.StoreKind, s.PendingCount(), s.State, s.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "\n%d pending migration(s); tenants: %d total, %d pending, %d up to date, %d with errors\n",
				status.TotalPendingMigrations, status.Tenants.TotalTenants, status.Tenants.TenantsWithPendingMigrations,
				status.Tenants.TenantsUpToDate, status.Tenants.TenantsWithErrors)
			if status.Tenants.DirectoryError != "" {
				fmt.Fprintf(a.out, "tenant directory error: %s\n", status.Tenants.DirectoryError)
			}
			return nil
		},
	}
}

func applyCmd(a *app) *cobra.Command {
	var (
		module    string
		migration string
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "apply all|master|alerts|TENANT",
		Short: "Apply pending migrations to one store or the whole fleet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := args[0]
			narrowed := module != "" || migration != ""
			if migration != "" && module == "" {
				return fmt.Errorf("--migration requires --module")
			}

			q := url.Values{}
			var (
				path string
				body any
			)
			switch {
			case target == string(fleet.AllStores):
				if narrowed {
					return fmt.Errorf("--module and --migration need a single store")
				}
				q.Set("action", string(fleet.PlanApplyAll))
				path = "/migrations/apply-all"
			case target == string(fleet.MasterStore) && !narrowed:
				q.Set("action", string(fleet.PlanApplyMaster))
				path = "/migrations/apply-master"
			case target == string(fleet.AlertsStore) && !narrowed:
				q.Set("action", string(fleet.PlanApplyAlerts))
				path = "/migrations/apply-alerts"
			default:
				q.Set("action", string(fleet.PlanApplyTenant))
				q.Set("store", target)
				q.Set("module", module)
				q.Set("migration", migration)
				path = "/migrations/stores/" + url.PathEscape(target) + "/apply"
				if narrowed {
					body = map[string]string{"module": module, "migration": migration}
				}
			}

			plan, err := a.plan(ctx, q)
			if err != nil {
				return err
			}
			if plan.AffectedMigrations == 0 {
				fmt.Fprintln(a.out, plan.Summary)
				for _, t := range plan.Targets {
					if t.Error != "" {
						fmt.Fprintf(a.out, "  %-12s error: %s\n", t.StoreID, t.Error)
					}
				}
				return nil
			}
			return a.confirmed(ctx, plan, yes, func(token string) error {
				var raw json.RawMessage
				if err := a.client.do(ctx, http.MethodPost, path, body, token, &raw); err != nil {
					return err
				}
				if a.output == "json" {
					_, err := fmt.Fprintln(a.out, string(raw))
					return err
				}
				var summary struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal(raw, &summary); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Fprintln(a.out, summary.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&module, "module", "", "only apply this module")
	cmd.Flags().StringVar(&migration, "migration", "", "stop after this migration (requires --module)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not prompt for confirmation")
	return cmd
}

func rollbackCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rollback STORE MODULE MIGRATION",
		Short: "Roll back the most recently applied migration of a module",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, module, name := args[0], args[1], args[2]
			q := url.Values{}
			q.Set("action", string(fleet.PlanRollback))
			q.Set("store", store)
			q.Set("module", module)
			q.Set("migration", name)
			plan, err := a.plan(ctx, q)
			if err != nil {
				return err
			}
			return a.confirmed(ctx, plan, yes, func(token string) error {
				var resp struct {
					Message string             `json:"message"`
					Entry   fleet.HistoryEntry `json:"entry"`
				}
				body := map[string]string{"module": module, "migrationName": name}
				if err := a.client.do(ctx, http.MethodPost, "/migrations/stores/"+url.PathEscape(store)+"/rollback", body, token, &resp); err != nil {
					return err
				}
				if a.output == "json" {
					return a.printJSON(resp)
				}
				fmt.Fprintln(a.out, resp.Message)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not prompt for confirmation")
	return cmd
}

func historyCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history STORE",
		Short: "Show applied migrations and the apply/rollback ledger of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				AppliedMigrations []fleet.MigrationDescriptor `json:"appliedMigrations"`
				TotalMigrations   int                         `json:"totalMigrations"`
				Entries           []fleet.HistoryEntry        `json:"entries"`
				Error             string                      `json:"error"`
			}
			path := "/migrations/stores/" + url.PathEscape(args[0]) + "/history?limit=" + strconv.Itoa(limit)
			if err := a.client.do(cmd.Context(), http.MethodGet, path, nil, "", &resp); err != nil {
				return err
			}
			if a.output == "json" {
				return a.printJSON(resp)
			}
			fmt.Fprintf(a.out, "%d of %d migration(s) applied\n", len(resp.AppliedMigrations), resp.TotalMigrations)
			if resp.Error != "" {
				fmt.Fprintf(a.out, "store error: %s\n", resp.Error)
			}
			fmt.Fprintln(a.out)
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tACTION\tMIGRATION\tOUTCOME\tACTOR\tERROR")
			for _, e := range resp.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.AppliedAt.Format(time.RFC3339), e.Action,
					e.Migration.Key(), e.Outcome, e.Actor, e.ErrorDetail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum ledger entries")
	return cmd
}

func catalogCmd(a *app) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the migration script catalog on disk",
	}

	var (
		dir         string
		upFile      string
		downFile    string
		description string
	)
	add := &cobra.Command{
		Use:   "add master|alerts|tenant MODULE NAME",
		Short: "Add a migration to the catalog",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := fleet.StoreKind(args[0])
			switch kind {
			case fleet.KindMaster, fleet.KindAlerts, fleet.KindTenant:
			default:
				return fmt.Errorf("unknown store kind %q", args[0])
			}
			if dir == "" {
				return fmt.Errorf("--dir is required (or set FLEETMIG_CATALOG_DIR)")
			}
			up, err := os.ReadFile(upFile)
			if err != nil {
				return fmt.Errorf("read up script: %w", err)
			}
			var down []byte
			if downFile != "" {
				if down, err = os.ReadFile(downFile); err != nil {
					return fmt.Errorf("read down script: %w", err)
				}
			}
			manifest, err := registry.AddScript(dir, kind, args[1], args[2], string(up), string(down), description)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added %s/%s/%s (checksum %s)\n", kind, args[1], args[2], manifest.Checksum)
			return nil
		},
	}
	add.Flags().StringVar(&dir, "dir", os.Getenv("FLEETMIG_CATALOG_DIR"), "catalog root")
	add.Flags().StringVar(&upFile, "up", "", "file with the up script (required)")
	add.Flags().StringVar(&downFile, "down", "", "file with the down script")
	add.Flags().StringVar(&description, "description", "", "what the migration does")
	_ = add.MarkFlagRequired("up")

	catalog.AddCommand(add)
	return catalog
}
