// Package backup snapshots a store before migrations run by handing it to
// an operator-supplied shell command.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tenant_fleet_migrator/internal/db"
	"tenant_fleet_migrator/internal/fleet"
)

type Locator interface {
	Locate(ctx context.Context, id fleet.StoreID) (db.Target, error)
}

// CommandHook runs Command with sh -c. The store travels in the
// environment as FLEETMIG_STORE_ID, FLEETMIG_STORE_KIND,
// FLEETMIG_STORE_ENGINE and FLEETMIG_STORE_DSN; a non-zero exit fails the
// backup.
type CommandHook struct {
	Command string
	Locator Locator
	Logger  fleet.Logger
	// Shell defaults to /bin/sh.
	Shell string
}

const maxOutputInError = 512

func (h *CommandHook) Backup(ctx context.Context, ref fleet.StoreRef) error {
	if strings.TrimSpace(h.Command) == "" {
		return fleet.ErrNoBackupHook
	}
	target, err := h.Locator.Locate(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("locate %s: %w", ref.ID, err)
	}

	shell := h.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", h.Command)
	cmd.Env = append(os.Environ(),
		"FLEETMIG_STORE_ID="+string(ref.ID),
		"FLEETMIG_STORE_KIND="+string(ref.Kind),
		"FLEETMIG_STORE_ENGINE="+target.Engine,
		"FLEETMIG_STORE_DSN="+target.DSN,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	if err != nil {
		return fmt.Errorf("backup command for %s: %w: %s", ref.ID, err, tail(out.String()))
	}
	if h.Logger != nil {
		h.Logger.Info("backup completed", "store_id", ref.ID, "duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputInError {
		s = "..." + s[len(s)-maxOutputInError:]
	}
	return s
}
