package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gridsim/internal/area"
	"gridsim/internal/market"
)

// AreaState is one area's slice of a tree snapshot.
type AreaState struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	CurrentTick int    `json:"current_tick"`
	Offloaded   bool   `json:"offloaded,omitempty"`

	Markets          []market.Snapshot `json:"markets,omitempty"`
	BalancingMarkets []market.Snapshot `json:"balancing_markets,omitempty"`
	PastMarkets      []market.Snapshot `json:"past_markets,omitempty"`
}

// Snapshot represents a point-in-time capture of the area tree, taken by
// the coordinator between two ticks.
type Snapshot struct {
	Tick    int         `json:"tick"`
	TsUnix  int64       `json:"ts"`       // wall clock, Unix seconds
	SimTime time.Time   `json:"sim_time"` // simulated clock of the root
	Areas   []AreaState `json:"areas"`
}

// SnapshotManager handles saving and loading snapshots.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager creates a new snapshot manager.
// dir: directory to store snapshot files.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// Dir returns the directory snapshots are written to.
func (sm *SnapshotManager) Dir() string {
	return sm.dir
}

// Save writes a snapshot to disk and returns its path.
func (sm *SnapshotManager) Save(snap *Snapshot) (string, error) {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	filename := fmt.Sprintf("snapshot_%d_%d.json", snap.Tick, snap.TsUnix)
	path := filepath.Join(sm.dir, filename)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	slog.Debug("Snapshot saved",
		slog.Int("tick", snap.Tick),
		slog.String("path", path))

	return path, nil
}

type snapFile struct {
	path string
	tick int
}

func (sm *SnapshotManager) list() ([]snapFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		return nil, err
	}

	var files []snapFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var tick int
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &tick, &ts); err != nil {
			continue // Not a snapshot file
		}
		files = append(files, snapFile{path: filepath.Join(sm.dir, entry.Name()), tick: tick})
	}

	// Newest first
	sort.Slice(files, func(i, j int) bool { return files[i].tick > files[j].tick })
	return files, nil
}

// LoadLatest loads the snapshot with the highest tick.
// Returns nil if no snapshot exists.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	files, err := sm.list()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("Snapshot loaded",
		slog.Int("tick", snap.Tick),
		slog.String("path", files[0].path))

	return &snap, nil
}

// Cleanup removes old snapshots, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	if len(files) <= keepCount {
		return nil
	}

	for _, f := range files[keepCount:] {
		if err := os.Remove(f.path); err != nil {
			slog.Warn("Failed to remove old snapshot", slog.String("path", f.path), slog.Any("error", err))
		}
	}
	return nil
}

// CreateSnapshot captures the visible tree below root. Subtrees owned by a
// worker appear only through the offloaded area's own markets.
func CreateSnapshot(tick int, root *area.Area) *Snapshot {
	snap := &Snapshot{
		Tick:    tick,
		TsUnix:  time.Now().Unix(),
		SimTime: root.Now(),
	}
	root.Walk(func(a *area.Area) {
		snap.Areas = append(snap.Areas, AreaState{
			Name:             a.Name(),
			Slug:             a.Slug(),
			CurrentTick:      a.CurrentTick(),
			Offloaded:        a.Offloaded(),
			Markets:          snapshots(a.Markets()),
			BalancingMarkets: snapshots(a.BalancingMarkets()),
			PastMarkets:      snapshots(a.PastMarkets()),
		})
	})
	return snap
}

func snapshots(ms []*market.Market) []market.Snapshot {
	if len(ms) == 0 {
		return nil
	}
	out := make([]market.Snapshot, len(ms))
	for i, m := range ms {
		out[i] = m.Snapshot()
	}
	return out
}
