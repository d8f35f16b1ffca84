// Package modelio persists trainable components as opaque blobs on disk.
package modelio

import (
	"encoding"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the component's blob to path atomically.
func Save(path string, m encoding.BinaryMarshaler) error {
	blob, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	return WriteFile(path, blob)
}

// Load restores the component from the blob stored at path.
func Load(path string, m encoding.BinaryUnmarshaler) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model %s: %w", path, err)
	}
	if err := m.UnmarshalBinary(blob); err != nil {
		return fmt.Errorf("unmarshal model %s: %w", path, err)
	}
	return nil
}

// WriteFile writes blob through a temp file and rename so readers never see a partial blob.
func WriteFile(path string, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename model: %w", err)
	}
	return nil
}
