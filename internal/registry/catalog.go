package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tenant_fleet_migrator/internal/fleet"
)

const (
	indexFile    = "index.toml"
	manifestFile = "manifest.json"
	upFile       = "up.sql"
	downFile     = "down.sql"
)

// Manifest is the optional metadata stored next to a migration's scripts.
type Manifest struct {
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Checksum    string    `json:"checksum,omitempty"`
}

// Script is one declared migration with its bodies.
type Script struct {
	Descriptor  fleet.MigrationDescriptor
	Description string
	Up          string
	Down        string
	Checksum    string
}

type index struct {
	Modules []string `toml:"modules"`
}

// Catalog holds every declared migration, laid out as
// <kind>/<module>/<name>/{up.sql,down.sql,manifest.json}. Modules run in
// the order listed by <kind>/index.toml, unlisted ones after in lexical
// order; migrations within a module run in lexical order.
type Catalog struct {
	byKind map[fleet.StoreKind][]Script
	byKey  map[fleet.StoreKind]map[string]Script
}

func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{
		byKind: map[fleet.StoreKind][]Script{},
		byKey:  map[fleet.StoreKind]map[string]Script{},
	}
	for _, kind := range []fleet.StoreKind{fleet.KindMaster, fleet.KindAlerts, fleet.KindTenant} {
		scripts, err := loadKind(fsys, kind)
		if err != nil {
			return nil, err
		}
		c.byKind[kind] = scripts
		keyed := make(map[string]Script, len(scripts))
		for _, s := range scripts {
			keyed[strings.ToLower(s.Descriptor.Key())] = s
		}
		c.byKey[kind] = keyed
	}
	return c, nil
}

func (c *Catalog) Descriptors(kind fleet.StoreKind) []fleet.MigrationDescriptor {
	scripts := c.byKind[kind]
	out := make([]fleet.MigrationDescriptor, len(scripts))
	for i, s := range scripts {
		out[i] = s.Descriptor
	}
	return out
}

// Lookup matches the module case-insensitively and the name exactly.
func (c *Catalog) Lookup(m fleet.MigrationDescriptor) (Script, error) {
	kinds := []fleet.StoreKind{m.StoreKind}
	if m.StoreKind == "" {
		kinds = []fleet.StoreKind{fleet.KindMaster, fleet.KindAlerts, fleet.KindTenant}
	}
	for _, kind := range kinds {
		if s, ok := c.byKey[kind][strings.ToLower(m.Module)+"/"+strings.ToLower(m.Name)]; ok && s.Descriptor.Name == m.Name {
			return s, nil
		}
	}
	return Script{}, fmt.Errorf("%w: %s", fleet.ErrUnknownMigration, m.Key())
}

func loadKind(fsys fs.FS, kind fleet.StoreKind) ([]Script, error) {
	root := string(kind)
	entries, err := fs.ReadDir(fsys, root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s catalog: %w", kind, err)
	}

	var found []string
	for _, e := range entries {
		if e.IsDir() {
			found = append(found, e.Name())
		}
	}
	sort.Strings(found)

	order, err := moduleOrder(fsys, root, found)
	if err != nil {
		return nil, err
	}

	var out []Script
	for _, module := range order {
		scripts, err := loadModule(fsys, kind, module)
		if err != nil {
			return nil, err
		}
		out = append(out, scripts...)
	}
	return out, nil
}

func moduleOrder(fsys fs.FS, root string, found []string) ([]string, error) {
	data, err := fs.ReadFile(fsys, path.Join(root, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return found, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path.Join(root, indexFile), err)
	}
	var idx index
	if err := toml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path.Join(root, indexFile), err)
	}

	present := make(map[string]bool, len(found))
	for _, m := range found {
		present[m] = true
	}
	seen := map[string]bool{}
	var order []string
	for _, m := range idx.Modules {
		if !present[m] {
			return nil, fmt.Errorf("%s lists module %q with no directory", path.Join(root, indexFile), m)
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		order = append(order, m)
	}
	for _, m := range found {
		if !seen[m] {
			order = append(order, m)
		}
	}
	return order, nil
}

func loadModule(fsys fs.FS, kind fleet.StoreKind, module string) ([]Script, error) {
	dir := path.Join(string(kind), module)
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Script, 0, len(names))
	for _, name := range names {
		s, err := loadScript(fsys, kind, module, name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func loadScript(fsys fs.FS, kind fleet.StoreKind, module, name string) (Script, error) {
	dir := path.Join(string(kind), module, name)
	up, err := fs.ReadFile(fsys, path.Join(dir, upFile))
	if err != nil {
		return Script{}, fmt.Errorf("read forward script %s: %w", dir, err)
	}
	down, err := fs.ReadFile(fsys, path.Join(dir, downFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Script{}, fmt.Errorf("read rollback script %s: %w", dir, err)
	}

	s := Script{
		Descriptor: fleet.MigrationDescriptor{Module: module, Name: name, StoreKind: kind},
		Up:         string(up),
		Down:       string(down),
		Checksum:   computeChecksum(up, down),
	}

	data, err := fs.ReadFile(fsys, path.Join(dir, manifestFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Script{}, fmt.Errorf("read manifest %s: %w", dir, err)
	default:
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return Script{}, fmt.Errorf("parse manifest %s: %w", dir, err)
		}
		if m.Checksum != "" && m.Checksum != s.Checksum {
			return Script{}, fmt.Errorf("%s: scripts changed since manifest was written", dir)
		}
		s.Description = m.Description
	}
	return s, nil
}

// AddScript writes a new migration into a catalog directory on disk.
func AddScript(base string, kind fleet.StoreKind, module, name, up, down, description string) (Manifest, error) {
	module, name = safeName(module), safeName(name)
	if module == "" || name == "" {
		return Manifest{}, fmt.Errorf("module and name are required")
	}
	if strings.TrimSpace(up) == "" {
		return Manifest{}, fmt.Errorf("forward script is empty")
	}
	dir := filepath.Join(base, string(kind), module, name)
	if _, err := os.Stat(filepath.Join(dir, upFile)); err == nil {
		return Manifest{}, fmt.Errorf("migration %s/%s already exists for %s stores", module, name, kind)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, upFile), []byte(up), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write forward script: %w", err)
	}
	if down != "" {
		if err := os.WriteFile(filepath.Join(dir, downFile), []byte(down), 0o644); err != nil {
			return Manifest{}, fmt.Errorf("write rollback script: %w", err)
		}
	}
	m := Manifest{
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Checksum:    computeChecksum([]byte(up), []byte(down)),
	}
	if err := writeJSON(filepath.Join(dir, manifestFile), m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func computeChecksum(blobs ...[]byte) string {
	h := sha256.New()
	for _, b := range blobs {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
