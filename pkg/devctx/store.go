package devctx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotVersion is the current snapshot file format version.
const SnapshotVersion = 1

// snapshot is the on-disk form of the cache contents.
type snapshot struct {
	Version int              `cbor:"version"`
	SavedAt time.Time        `cbor:"saved_at"`
	Records []*ContextRecord `cbor:"records"`
}

// Snapshot encoder and decoder. Deterministic encoding so identical cache
// contents produce identical files.
var (
	storeEncMode cbor.EncMode
	storeDecMode cbor.DecMode
)

func init() {
	encOpts := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}
	em, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("devctx: invalid CBOR encode options: %v", err))
	}
	storeEncMode = em

	decOpts := cbor.DecOptions{
		TimeTag: cbor.DecTagOptional,
	}
	dm, err := decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("devctx: invalid CBOR decode options: %v", err))
	}
	storeDecMode = dm
}

// Store persists cache snapshots to a CBOR file, enabling offline
// operation once a device has been seen.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes a snapshot of the records to disk. The write goes through
// a temp file and rename so a crash never leaves a torn snapshot.
func (s *Store) Save(records []*ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := storeEncMode.Marshal(&snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now(),
		Records: records,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot from disk.
// Returns nil, nil if the file doesn't exist (empty cache).
func (s *Store) Load() ([]*ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &snapshot{}
	if err := storeDecMode.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Records, nil
}

// Clear removes the snapshot file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
