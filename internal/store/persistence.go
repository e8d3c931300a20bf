package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// SnapshotFile is the file name of the memory store snapshot.
const SnapshotFile = "openclapp.json"

// Persistence handles the disk I/O for the MemStore.
type Persistence struct {
	DataDir string
	Log     logrus.FieldLogger

	mu      sync.Mutex // Protects concurrent writes to the filesystem
	written uint64
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string, log logrus.FieldLogger) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Persistence{DataDir: dir, Log: log}, nil
}

func (p *Persistence) path() string {
	return filepath.Join(p.DataDir, SnapshotFile)
}

// Save writes the snapshot atomically. Snapshots older than the last one
// written are skipped, since background saves may finish out of order.
func (p *Persistence) Save(s *Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Version != 0 && s.Version <= p.written {
		return nil
	}

	bytes, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tempPath := p.path() + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	// Readers see either the old file or the new one, never a partial write.
	if err := os.Rename(tempPath, p.path()); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	p.written = s.Version
	return nil
}

// Load reads the last snapshot. A missing file yields an empty snapshot.
func (p *Persistence) Load() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	content, err := os.ReadFile(p.path())
	if errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(content, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	p.written = s.Version
	return &s, nil
}
