package pix2pix

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CheckpointIndexFile Name of the index file inside a checkpoint directory
const CheckpointIndexFile = "checkpoint"

// CheckpointStore Directory of ModelState snapshots named "<Prefix>-<step>.gob" plus a YAML index.
//
// Keep - number of most recent snapshots to retain; 0 keeps all of them
//
type CheckpointStore struct {
	Dir    string
	Prefix string
	Keep   int
}

// checkpointIndex Content of the index file
type checkpointIndex struct {
	Latest string   `yaml:"latest"`
	All    []string `yaml:"all"`
}

// NewCheckpointStore Store with "ckpt" prefix keeping every snapshot
func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{Dir: dir, Prefix: "ckpt"}
}

// Save Writes state and updates index. Both writes are atomic: a crash leaves either the previous or the new file.
// Returns path of the written snapshot.
func (s *CheckpointStore) Save(state *ModelState) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", &CheckpointIOError{Op: "save", Path: s.Dir, Err: err}
	}
	name := fmt.Sprintf("%s-%d.gob", s.Prefix, state.Step)
	path := filepath.Join(s.Dir, name)
	err := writeFileAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := state.Encode(w); err != nil {
			return err
		}
		return w.Flush()
	})
	if err != nil {
		return "", &CheckpointIOError{Op: "save", Path: path, Err: err}
	}

	idx, err := s.readIndex()
	if err != nil {
		return "", err
	}
	idx.Latest = name
	present := false
	for _, n := range idx.All {
		if n == name {
			present = true
			break
		}
	}
	if !present {
		idx.All = append(idx.All, name)
	}
	var stale []string
	if s.Keep > 0 && len(idx.All) > s.Keep {
		stale = append(stale, idx.All[:len(idx.All)-s.Keep]...)
		idx.All = append([]string(nil), idx.All[len(idx.All)-s.Keep:]...)
	}
	if err := s.writeIndex(idx); err != nil {
		return "", err
	}
	for _, n := range stale {
		if err := os.Remove(filepath.Join(s.Dir, n)); err != nil && !os.IsNotExist(err) {
			return path, &CheckpointIOError{Op: "prune", Path: filepath.Join(s.Dir, n), Err: err}
		}
	}
	return path, nil
}

// Latest Returns path of the most recent snapshot, or "" when the store is empty
func (s *CheckpointStore) Latest() (string, error) {
	idx, err := s.readIndex()
	if err != nil {
		return "", err
	}
	if idx.Latest == "" {
		return "", nil
	}
	return filepath.Join(s.Dir, idx.Latest), nil
}

// All Returns paths of retained snapshots, oldest first
func (s *CheckpointStore) All() ([]string, error) {
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(idx.All))
	for i, n := range idx.All {
		paths[i] = filepath.Join(s.Dir, n)
	}
	return paths, nil
}

func (s *CheckpointStore) readIndex() (checkpointIndex, error) {
	path := filepath.Join(s.Dir, CheckpointIndexFile)
	var idx checkpointIndex
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return idx, &CheckpointIOError{Op: "read index", Path: path, Err: err}
	}
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return idx, &CheckpointIOError{Op: "read index", Path: path, Err: err}
	}
	return idx, nil
}

func (s *CheckpointStore) writeIndex(idx checkpointIndex) error {
	path := filepath.Join(s.Dir, CheckpointIndexFile)
	data, err := yaml.Marshal(&idx)
	if err != nil {
		return &CheckpointIOError{Op: "write index", Path: path, Err: err}
	}
	err = writeFileAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		return &CheckpointIOError{Op: "write index", Path: path, Err: err}
	}
	return nil
}

// LoadCheckpoint Reads ModelState from a snapshot file or from the latest snapshot of a store directory
func LoadCheckpoint(path string) (*ModelState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &CheckpointIOError{Op: "load", Path: path, Err: err}
	}
	if info.IsDir() {
		latest, err := NewCheckpointStore(path).Latest()
		if err != nil {
			return nil, err
		}
		if latest == "" {
			return nil, &CheckpointIOError{Op: "load", Path: path, Err: fmt.Errorf("no checkpoints in directory")}
		}
		path = latest
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &CheckpointIOError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()
	state, err := DecodeModelState(bufio.NewReader(f))
	if err != nil {
		return nil, &CheckpointIOError{Op: "load", Path: path, Err: err}
	}
	return state, nil
}

// writeFileAtomic Writes into a temporary file of the same directory, syncs it and renames it over path
func writeFileAtomic(path string, write func(f *os.File) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if err = write(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
