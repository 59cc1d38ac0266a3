// Package backup manages timestamped snapshot directories of the
// configured config artifacts, with sidecar metadata, listing, restore,
// retention, and diff. Restores swap files into place with the same
// temp-file+rename discipline internal/configstore uses for live writes.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/ferrors"
	"github.com/fleetctl/fleetctl/internal/metrics"
)

// Artifact describes one file BackupManager tracks.
type Artifact struct {
	LogicalName string
	Path        string
	Required    bool
}

// FileMeta records a copied file's size inside a snapshot's sidecar.
type FileMeta struct {
	LogicalName string `json:"logicalName"`
	SizeBytes   int64  `json:"sizeBytes"`
	Description string `json:"description,omitempty"`
}

// Metadata is a snapshot's sidecar document.
type Metadata struct {
	SnapshotID string     `json:"snapshotId"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"createdAt"`
	Files      []FileMeta `json:"files"`
}

// Summary is what List returns: metadata plus computed age.
type Summary struct {
	Metadata
	AgeSeconds float64 `json:"ageSeconds"`
}

const defaultRetention = 20

// Manager manages snapshots under a root directory.
type Manager struct {
	root      string
	artifacts []Artifact
	clk       clock.Clock
}

// New creates a Manager rooted at dir, tracking the given artifacts.
func New(dir string, artifacts []Artifact, clk clock.Clock) *Manager {
	return &Manager{root: dir, artifacts: artifacts, clk: clk}
}

// Create copies each configured artifact into a new timestamped snapshot
// directory and writes its sidecar metadata. An optional artifact that
// fails to copy is skipped (not fatal); a required artifact failing aborts
// and rolls back the partial directory.
func (m *Manager) Create(reason string, extra map[string]string) (string, error) {
	// Two snapshots taken at the same clock reading get successive IDs, so
	// every snapshot has its own directory.
	nanos := m.clk.Now().UnixNano()
	id := fmt.Sprintf("%d", nanos)
	for {
		if _, err := os.Stat(filepath.Join(m.root, id)); err != nil {
			break
		}
		nanos++
		id = fmt.Sprintf("%d", nanos)
	}
	dir := filepath.Join(m.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ferrors.Wrap(ferrors.KindSnapshotFailed, "create snapshot dir", err)
	}

	var files []FileMeta
	for _, a := range m.artifacts {
		size, err := copyFile(a.Path, filepath.Join(dir, a.LogicalName))
		if err != nil {
			if !a.Required {
				continue
			}
			os.RemoveAll(dir)
			return "", ferrors.Wrap(ferrors.KindSnapshotFailed, fmt.Sprintf("copy required artifact %s", a.LogicalName), err)
		}
		files = append(files, FileMeta{LogicalName: a.LogicalName, SizeBytes: size, Description: extra[a.LogicalName]})
	}

	meta := Metadata{SnapshotID: id, Reason: reason, CreatedAt: m.clk.Now(), Files: files}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return "", ferrors.Wrap(ferrors.KindSnapshotFailed, "marshal metadata", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", ferrors.Wrap(ferrors.KindSnapshotFailed, "write metadata", err)
	}
	metrics.BackupsTotal.Inc()
	return id, nil
}

// List returns snapshot summaries newest-first, at most limit entries (0 =
// unbounded).
func (m *Manager) List(limit int) ([]Summary, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ferrors.Wrap(ferrors.KindInternal, "list snapshots", err)
	}
	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := m.readMetadata(e.Name())
		if err != nil {
			continue
		}
		out = append(out, Summary{Metadata: meta, AgeSeconds: m.clk.Now().Sub(meta.CreatedAt).Seconds()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotID > out[j].SnapshotID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns one snapshot's metadata.
func (m *Manager) Get(snapshotID string) (Metadata, error) {
	return m.readMetadata(snapshotID)
}

func (m *Manager) readMetadata(snapshotID string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(m.root, snapshotID, "metadata.json"))
	if err != nil {
		return Metadata{}, ferrors.Wrap(ferrors.KindInternal, "read snapshot metadata", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, ferrors.Wrap(ferrors.KindInternal, "decode snapshot metadata", err)
	}
	return meta, nil
}

// Restore swaps each tracked artifact from snapshotID into place,
// optionally creating a pre-restore snapshot first. Each file is swapped in
// atomically. If a file fails to copy and a pre-restore snapshot was taken,
// the files already swapped in are copied back from it, so live state is
// left at the pre-restore snapshot rather than a mix of old and new files;
// without a pre-restore snapshot the files restored before the failure
// stay restored.
func (m *Manager) Restore(snapshotID string, createBackupBeforeRestore bool) (preRestoreID string, err error) {
	if createBackupBeforeRestore {
		preRestoreID, err = m.Create("pre-restore", nil)
		if err != nil {
			return "", err
		}
	}

	meta, err := m.readMetadata(snapshotID)
	if err != nil {
		return preRestoreID, ferrors.Wrap(ferrors.KindRestoreFailed, "read snapshot to restore", err)
	}

	byName := make(map[string]Artifact, len(m.artifacts))
	for _, a := range m.artifacts {
		byName[a.LogicalName] = a
	}

	var restored []Artifact
	for _, f := range meta.Files {
		art, ok := byName[f.LogicalName]
		if !ok {
			continue
		}
		if err := atomicCopy(filepath.Join(m.root, snapshotID, f.LogicalName), art.Path); err != nil {
			if preRestoreID != "" {
				for _, done := range restored {
					_ = atomicCopy(filepath.Join(m.root, preRestoreID, done.LogicalName), done.Path)
				}
			}
			metrics.RestoresTotal.WithLabelValues("failed").Inc()
			return preRestoreID, ferrors.Wrap(ferrors.KindRestoreFailed,
				fmt.Sprintf("restore %s failed, live state left at pre-restore snapshot %s", f.LogicalName, preRestoreID), err)
		}
		restored = append(restored, art)
	}
	metrics.RestoresTotal.WithLabelValues("success").Inc()
	return preRestoreID, nil
}

// Retention keeps the newest N snapshots (default defaultRetention) and
// deletes the rest, returning how many were removed.
func (m *Manager) Retention(keep int) (int, error) {
	if keep <= 0 {
		keep = defaultRetention
	}
	all, err := m.List(0)
	if err != nil {
		return 0, err
	}
	if len(all) <= keep {
		return 0, nil
	}
	removed := 0
	for _, s := range all[keep:] {
		if err := os.RemoveAll(filepath.Join(m.root, s.SnapshotID)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// ConfigDiff is the set-difference over two env-file artifacts' keys.
type ConfigDiff struct {
	OnlyInA []string
	OnlyInB []string
	Changed []string
	Same    []string
}

// Diff compares an environment-file artifact across two snapshots.
func (m *Manager) Diff(aID, bID, logicalName string) (ConfigDiff, error) {
	aData, err := os.ReadFile(filepath.Join(m.root, aID, logicalName))
	if err != nil {
		return ConfigDiff{}, ferrors.Wrap(ferrors.KindInternal, "read snapshot A artifact", err)
	}
	bData, err := os.ReadFile(filepath.Join(m.root, bID, logicalName))
	if err != nil {
		return ConfigDiff{}, ferrors.Wrap(ferrors.KindInternal, "read snapshot B artifact", err)
	}
	aKV := parseKV(string(aData))
	bKV := parseKV(string(bData))

	var diff ConfigDiff
	for k, v := range aKV {
		if bv, ok := bKV[k]; !ok {
			diff.OnlyInA = append(diff.OnlyInA, k)
		} else if bv != v {
			diff.Changed = append(diff.Changed, k)
		} else {
			diff.Same = append(diff.Same, k)
		}
	}
	for k := range bKV {
		if _, ok := aKV[k]; !ok {
			diff.OnlyInB = append(diff.OnlyInB, k)
		}
	}
	sort.Strings(diff.OnlyInA)
	sort.Strings(diff.OnlyInB)
	sort.Strings(diff.Changed)
	sort.Strings(diff.Same)
	return diff, nil
}

func parseKV(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		out[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
	}
	return out
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, in)
}

// atomicCopy copies src onto dst via a temp file + rename, so restore
// never leaves dst partially written.
func atomicCopy(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
