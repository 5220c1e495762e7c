package classifier

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// ModelFile is the conventional weights filename inside a model directory.
const ModelFile = "captcha_model.gob"

const snapshotVersion = 1

type snapshot struct {
	Version int
	Classes int
	Params  []float64
}

// Save writes the weights to path, replacing any existing file only once the new one is complete.
func (n *Network) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("failed to create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	snap := snapshot{Version: snapshotVersion, Classes: n.classes, Params: n.params}
	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install model: %w", err)
	}
	return nil
}

// Load reads weights written by Save.
func Load(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported model version %d", snap.Version)
	}
	n, err := New(snap.Classes, 0)
	if err != nil {
		return nil, err
	}
	if len(snap.Params) != len(n.params) {
		return nil, fmt.Errorf("%w: model has %d parameters, want %d for %d classes",
			ErrShapeMismatch, len(snap.Params), len(n.params), snap.Classes)
	}
	n.params = snap.Params
	return n, nil
}
