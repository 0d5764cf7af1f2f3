// Command fleetctl is the operator CLI for the fleet migration coordinator.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tenant_fleet_migrator/internal/fleet"
)

type app struct {
	client *client
	in     *bufio.Reader
	out    io.Writer
	output string
}

func main() {
	a := &app{in: bufio.NewReader(os.Stdin), out: os.Stdout}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	var (
		apiURL   string
		operator string
		role     string
		timeout  time.Duration
	)
	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate schema migrations across the master, alerts and tenant stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.output != "text" && a.output != "json" {
				return fmt.Errorf("--output must be text or json")
			}
			a.client = &client{
				baseURL:  apiURL,
				http:     &http.Client{Timeout: timeout},
				operator: operator,
				role:     role,
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&apiURL, "api-url", envOr("FLEETCTL_API_URL", "http://localhost:8080"), "coordinator API URL")
	root.PersistentFlags().StringVar(&operator, "operator", os.Getenv("FLEETCTL_OPERATOR"), "operator name sent to a gateway-trusting server")
	root.PersistentFlags().StringVar(&role, "role", envOr("FLEETCTL_ROLE", "operator"), "operator role: viewer, operator or admin")
	root.PersistentFlags().StringVar(&a.output, "output", "text", "output format: text, json")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "request timeout")

	root.AddCommand(statusCmd(a))
	root.AddCommand(applyCmd(a))
	root.AddCommand(rollbackCmd(a))
	root.AddCommand(historyCmd(a))
	root.AddCommand(scheduleCmd(a))
	root.AddCommand(settingsCmd(a))
	root.AddCommand(tenantsCmd(a))
	root.AddCommand(catalogCmd(a))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (a *app) plan(ctx context.Context, q url.Values) (fleet.Plan, error) {
	var plan fleet.Plan
	err := a.client.do(ctx, http.MethodGet, "/migrations/plan?"+q.Encode(), nil, "", &plan)
	return plan, err
}

// confirm shows the plan and asks before a destructive call. --yes skips the
// prompt, not the plan.
func (a *app) confirm(plan fleet.Plan, yes bool) (bool, error) {
	fmt.Fprintln(a.out, plan.Summary)
	for _, t := range plan.Targets {
		for _, m := range t.Migrations {
			fmt.Fprintf(a.out, "  %-12s %s\n", t.StoreID, m.Key())
		}
		if t.Error != "" {
			fmt.Fprintf(a.out, "  %-12s error: %s\n", t.StoreID, t.Error)
		}
	}
	if yes {
		return true, nil
	}
	fmt.Fprint(a.out, "Proceed? [y/N] ")
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// confirmed runs call with the plan's token after the operator agrees. A
// plan that changed in between is reported, not retried.
func (a *app) confirmed(ctx context.Context, plan fleet.Plan, yes bool, call func(token string) error) error {
	ok, err := a.confirm(plan, yes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "Aborted.")
		return nil
	}
	err = call(plan.Token)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Code == "plan_changed" && apiErr.Plan != nil {
		return fmt.Errorf("the fleet changed since the plan was shown (%s); run the command again", apiErr.Plan.Summary)
	}
	return err
}

func (a *app) printJSON(v any) error {
	enc := jsonEncoder(a.out)
	return enc.Encode(v)
}
