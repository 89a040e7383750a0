package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// StatusRecord is one roster entry as persisted.
type StatusRecord struct {
	Username  string `json:"username"`
	LastInput string `json:"lastInput,omitempty"`
}

// InstanceRecord is one instance as persisted. State may be a JSON string
// (opaque, handed to the playset deserializer as-is) or an inline object
// (hand-authored seeds; the object's own JSON text is the state).
type InstanceRecord struct {
	PlaysetName      string                  `json:"playsetName"`
	State            json.RawMessage         `json:"state"`
	ControllerStatus map[string]StatusRecord `json:"controllerStatus"`
}

// StateString resolves the two accepted state encodings to the serialized
// form a playset deserializer takes.
func (r *InstanceRecord) StateString() (string, error) {
	raw := []byte(strings.TrimSpace(string(r.State)))
	if len(raw) == 0 {
		return "", fmt.Errorf("instance record has no state")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decoding state string: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

// Snapshot is the whole-server dump at the well-known path.
type Snapshot struct {
	Config           map[string]any             `json:"config"`
	Users            map[string]*User           `json:"users"`
	NextControllerID int64                      `json:"nextControllerID"`
	Instances        map[string]*InstanceRecord `json:"instances"`
}

// Load reads a snapshot file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	if snap.Users == nil {
		snap.Users = make(map[string]*User)
	}
	if snap.Instances == nil {
		snap.Instances = make(map[string]*InstanceRecord)
	}
	if snap.NextControllerID < 1 {
		snap.NextControllerID = 1
	}
	return &snap, nil
}

// Save writes the snapshot to its canonical path atomically: temp file in
// the same directory, then rename.
func Save(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	return nil
}

const backupSuffix = ".json.gz"

// SaveBackup writes a timestamped gzip copy of the snapshot into dir and
// returns its path. Timestamped names sort chronologically, so rotation
// works on names alone.
func SaveBackup(dir string, snap *Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	path := filepath.Join(dir, "snapshot-"+stamp+backupSuffix)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("compressing backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("finishing backup: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing backup: %w", err)
	}
	return path, nil
}

// Rotate removes the oldest backups beyond maxBackups. Zero or negative
// keeps everything.
func Rotate(dir string, maxBackups int) error {
	if maxBackups <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading backup directory: %w", err)
	}
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), backupSuffix) {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups)
	if len(backups) <= maxBackups {
		return nil
	}
	for _, name := range backups[:len(backups)-maxBackups] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("removing old backup %s: %w", name, err)
		}
	}
	return nil
}

// Seed returns the snapshot a server starts from when the canonical file
// does not exist yet: an admin account and one empty "room" instance on the
// dots playset.
func Seed() (*Snapshot, error) {
	users := NewUsers()
	if err := users.Create("admin", "admin", "", "", true); err != nil {
		return nil, err
	}
	return &Snapshot{
		Config:           map[string]any{},
		Users:            users.Map(),
		NextControllerID: 1,
		Instances: map[string]*InstanceRecord{
			"room": {
				PlaysetName:      "dots",
				State:            json.RawMessage(`{"dots":[]}`),
				ControllerStatus: map[string]StatusRecord{},
			},
		},
	}, nil
}
