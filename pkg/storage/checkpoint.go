package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// WriteCheckpoint writes items to path as concatenated frames. The file is
// replaced atomically.
func WriteCheckpoint(path string, items []protocol.Item) error {
	frames := make([][]byte, 0, len(items))
	for _, it := range items {
		frame, err := protocol.Serialize(it)
		if err != nil {
			return fmt.Errorf("failed to serialize checkpoint item: %w", err)
		}
		frames = append(frames, frame)
	}

	return writeFileAtomic(path, func(w io.Writer) error {
		for _, frame := range frames {
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExportCheckpointFile writes every live record to path, replacing it
// atomically, and returns the number of records written
func (s *HistoryStore) ExportCheckpointFile(path string) (int, error) {
	var n int
	err := writeFileAtomic(path, func(w io.Writer) error {
		var err error
		n, err = s.ExportCheckpoint(w)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RestoreCheckpointFile imports the checkpoint at path into an empty store.
// A store that already holds records, or a missing file, is left alone.
func (s *HistoryStore) RestoreCheckpointFile(path string) (int, error) {
	count, err := s.RecordCount()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %v", err)
	}

	imported, _, err := s.ImportCheckpoint(data)
	return imported, err
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %v", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %v", err)
	}

	return os.Rename(tmp.Name(), path)
}

// ReadCheckpoint decodes a checkpoint file with reg. Malformed frames are
// skipped and counted.
func ReadCheckpoint(path string, reg *protocol.Registry) ([]protocol.Item, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read checkpoint: %v", err)
	}

	items, dropped, err := reg.DeserializeAll(data)
	if err != nil {
		return items, dropped, fmt.Errorf("checkpoint %s: %w", filepath.Base(path), err)
	}
	return items, dropped, nil
}
