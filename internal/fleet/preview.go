package fleet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// secondsPerTable is the rough per-table cost used for duration estimates.
const secondsPerTable = 2

type PreviewMigration struct {
	Migration MigrationDescriptor `json:"migration"`
	SQL       string              `json:"sql"`
}

type ScriptPreview struct {
	StoreID                  StoreID            `json:"storeId"`
	StoreName                string             `json:"storeName,omitempty"`
	ModuleName               string             `json:"moduleName,omitempty"`
	Migrations               []PreviewMigration `json:"migrations"`
	SQLScript                string             `json:"sqlScript"`
	AffectedTables           []string           `json:"affectedTables"`
	EstimatedDurationSeconds int                `json:"estimatedDuration"`
	GeneratedAt              time.Time          `json:"generatedAt"`
}

var errNoScripts = errors.New("registry does not expose scripts")

// Preview renders the pending scripts of a store, optionally for one module.
func (c *Coordinator) Preview(ctx context.Context, id StoreID, module string) (ScriptPreview, error) {
	src, ok := c.registry.(ScriptSource)
	if !ok {
		return ScriptPreview{}, errNoScripts
	}
	ref, err := c.resolver.Ref(ctx, id)
	if err != nil {
		return ScriptPreview{}, err
	}
	d, err := c.resolver.diff(ctx, ref)
	if err != nil {
		return ScriptPreview{}, err
	}

	out := ScriptPreview{
		StoreID:        id,
		StoreName:      ref.Name,
		ModuleName:     module,
		Migrations:     []PreviewMigration{},
		AffectedTables: []string{},
		GeneratedAt:    c.now().UTC(),
	}
	var script strings.Builder
	seen := map[string]bool{}
	for _, m := range d.pending {
		if module != "" && !strings.EqualFold(m.Module, module) {
			continue
		}
		up, _, err := src.Script(m)
		if err != nil {
			return ScriptPreview{}, fmt.Errorf("load script %s: %w", m.Key(), err)
		}
		out.Migrations = append(out.Migrations, PreviewMigration{Migration: m, SQL: up})
		fmt.Fprintf(&script, "-- %s\n%s\n\n", m.Key(), strings.TrimSpace(up))
		for _, t := range AffectedTables(up) {
			if !seen[t] {
				seen[t] = true
				out.AffectedTables = append(out.AffectedTables, t)
			}
		}
	}
	if len(out.Migrations) == 0 {
		script.WriteString("-- No pending migrations found\n")
	}
	out.SQLScript = script.String()
	out.EstimatedDurationSeconds = len(out.AffectedTables) * secondsPerTable
	return out, nil
}

var tableRefPattern = regexp.MustCompile(
	"(?i)\\b(?:(?:create|alter|drop|truncate)\\s+table(?:\\s+if\\s+(?:not\\s+)?exists)?" +
		"|create\\s+(?:unique\\s+)?index\\s+(?:if\\s+not\\s+exists\\s+)?[\\w\"`]+\\s+on" +
		"|insert\\s+into)\\s+([\\w.\"`]+)")

// AffectedTables lists the tables a DDL/DML script touches, in order of first
// appearance.
func AffectedTables(sql string) []string {
	var out []string
	seen := map[string]bool{}
	for _, match := range tableRefPattern.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(strings.NewReplacer(`"`, "", "`", "").Replace(match[1]))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
