package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// fileRecord is the on-disk shape; the id is the map key and isn't repeated.
type fileRecord struct {
	Name string `json:"name"`
	Cmd  string `json:"cmd"`
	Desc string `json:"desc"`
}

// FileStore keeps the catalog in a single JSON object keyed by command id.
type FileStore struct {
	Path string
}

func (s *FileStore) Load() (Commands, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Commands{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", s.Path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Commands{}, nil
	}

	var records map[string]fileRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", s.Path, err)
	}
	cmds := make(Commands, len(records))
	for id, r := range records {
		cmds[id] = Command{ID: id, Name: r.Name, Cmd: r.Cmd, Desc: r.Desc}
	}
	return cmds, nil
}

// Save writes the catalog to a temp file next to Path and renames it into place.
func (s *FileStore) Save(cmds Commands) error {
	records := make(map[string]fileRecord, len(cmds))
	for id, c := range cmds {
		records[id] = fileRecord{Name: c.Name, Cmd: c.Cmd, Desc: c.Desc}
	}
	b, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("making catalog dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(f.Name(), s.Path); err != nil {
		return fmt.Errorf("replacing %q: %w", s.Path, err)
	}
	return nil
}
