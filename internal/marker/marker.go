// Package marker tracks in-flight workers as one file per worker.
//
// A marker exists from the moment a dispatch is admitted until its trace is
// finalized or repaired. Counting markers is the fast path for "how many
// workers are running"; it never parses trace records.
package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fyrsmithlabs/agentgate/internal/fsutil"
)

// ErrMarkerExists is returned when a marker for the same worker instance is
// already present.
var ErrMarkerExists = errors.New("marker already exists")

// Marker is one in-flight worker.
type Marker struct {
	WorkerType string    `json:"worker_type"`
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
	PID        int       `json:"pid,omitempty"`
}

// Set is the marker directory of one project.
type Set struct {
	dir   string
	clock clock.Clock
}

// NewSet returns a Set rooted at dir. A nil clock uses the wall clock.
func NewSet(dir string, clk clock.Clock) *Set {
	if clk == nil {
		clk = clock.New()
	}
	return &Set{dir: dir, clock: clk}
}

// Dir returns the marker directory.
func (s *Set) Dir() string { return s.dir }

// Create atomically creates the marker for (workerType, instanceID).
func (s *Set) Create(workerType, instanceID string) error {
	if workerType == "" || instanceID == "" {
		return errors.New("marker: worker type and instance id are required")
	}
	m := Marker{
		WorkerType: workerType,
		InstanceID: instanceID,
		CreatedAt:  s.clock.Now().UTC(),
		PID:        os.Getpid(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	if err := fsutil.CreateExclusive(s.path(workerType, instanceID), data, 0o644); err != nil {
		if errors.Is(err, fsutil.ErrExists) {
			return fmt.Errorf("%w: %s.%s", ErrMarkerExists, workerType, instanceID)
		}
		return fmt.Errorf("create marker: %w", err)
	}
	return nil
}

// Remove deletes the marker for (workerType, instanceID). Missing is fine.
func (s *Set) Remove(workerType, instanceID string) error {
	return fsutil.RemoveIfExists(s.path(workerType, instanceID))
}

// RemoveForInstance deletes every marker of instanceID regardless of type.
// Returns the number removed.
func (s *Set) RemoveForInstance(instanceID string) (int, error) {
	markers, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range markers {
		if m.InstanceID != instanceID {
			continue
		}
		if err := s.Remove(m.WorkerType, m.InstanceID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Exists reports whether the marker for (workerType, instanceID) is present.
func (s *Set) Exists(workerType, instanceID string) bool {
	_, err := os.Stat(s.path(workerType, instanceID))
	return err == nil
}

// Count returns the number of markers of any type.
func (s *Set) Count() (int, error) {
	names, err := s.names()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// CountByType returns marker counts keyed by worker type.
func (s *Set) CountByType() (map[string]int, error) {
	markers, err := s.List()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(markers))
	for _, m := range markers {
		counts[m.WorkerType]++
	}
	return counts, nil
}

// List returns all markers ordered by creation time, oldest first.
func (s *Set) List() ([]Marker, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}
	out := make([]Marker, 0, len(names))
	for _, name := range names {
		m, ok := s.read(name)
		if !ok {
			// vanished between readdir and read
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Set) read(name string) (Marker, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return Marker{}, false
	}
	var m Marker
	if json.Unmarshal(data, &m) == nil && m.WorkerType != "" && m.InstanceID != "" {
		return m, true
	}
	// Hand-made or truncated marker: the file name still carries identity.
	workerType, instanceID, _ := strings.Cut(name, ".")
	return Marker{WorkerType: workerType, InstanceID: instanceID}, true
}

func (s *Set) names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read markers: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *Set) path(workerType, instanceID string) string {
	return filepath.Join(s.dir, fileName(workerType)+"."+fileName(instanceID))
}

func fileName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ".", "_").Replace(s)
}
