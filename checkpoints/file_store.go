package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/segmentio/ksuid"
)

// FileStore keeps checkpoints as files in a working directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(checkpointID int64, state []byte) (string, error) {
	name := checkpointName(checkpointID, ksuid.New().String())
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, state, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return path, nil
}

func (s *FileStore) LoadLatest() ([]byte, bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, false, fmt.Errorf("list checkpoints: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), checkpointPrefix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, false, nil
	}
	slices.Sort(names)

	data, err := os.ReadFile(filepath.Join(s.dir, names[len(names)-1]))
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, true, nil
}

var _ Store = (*FileStore)(nil)
