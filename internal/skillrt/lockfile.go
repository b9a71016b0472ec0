package skillrt

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// LockEntry pins one resolved skill.
type LockEntry struct {
	Version string `json:"version"`
	Source  string `json:"source"`
	Hash    string `json:"hash"`
}

// Lockfile is the sorted slug → entry mapping at <workspace>/skills.lock.
type Lockfile struct {
	Skills map[string]LockEntry `json:"skills"`
}

// NewLockfile returns an empty lockfile.
func NewLockfile() *Lockfile {
	return &Lockfile{Skills: make(map[string]LockEntry)}
}

// ReadLockfile loads the lockfile, returning an empty one when absent.
func ReadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewLockfile(), nil
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.ReadLockfile", "read "+path, err)
	}
	lf := NewLockfile()
	if err := json.Unmarshal(data, lf); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.ReadLockfile", "parse lockfile", err)
	}
	return lf, nil
}

// Canonical serializes the lockfile deterministically: slugs sorted, two
// space indent, trailing newline. Two installs with the same resolution
// produce identical bytes.
func (l *Lockfile) Canonical() ([]byte, error) {
	slugs := make([]string, 0, len(l.Skills))
	for slug := range l.Skills {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	var buf bytes.Buffer
	buf.WriteString("{\n  \"skills\": {")
	for i, slug := range slugs {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n    ")
		key, _ := json.Marshal(slug)
		buf.Write(key)
		buf.WriteString(": ")
		entry, err := json.Marshal(l.Skills[slug])
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.Canonical", "marshal entry "+slug, err)
		}
		buf.Write(entry)
	}
	if len(slugs) > 0 {
		buf.WriteString("\n  ")
	}
	buf.WriteString("}\n}\n")
	return buf.Bytes(), nil
}

// Write persists the canonical form.
func (l *Lockfile) Write(path string) error {
	data, err := l.Canonical()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "skillrt.Write", "write "+path, err)
	}
	return nil
}

// Pin records a resolution. An existing pin is only replaced when force is
// set or the new version is not a downgrade.
func (l *Lockfile) Pin(slug string, entry LockEntry, force bool) error {
	cur, ok := l.Skills[slug]
	if ok && !force {
		curV, err1 := semver.NewVersion(cur.Version)
		newV, err2 := semver.NewVersion(entry.Version)
		if err1 == nil && err2 == nil && newV.LessThan(curV) {
			return titanerr.New(titanerr.KindConflict, "skillrt.Pin",
				"lockfile pins "+slug+" at "+cur.Version+"; use force to downgrade")
		}
	}
	l.Skills[slug] = entry
	return nil
}
