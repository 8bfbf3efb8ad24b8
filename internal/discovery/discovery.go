// Package discovery reads and writes the small JSON file through which
// clients locate a running daemon. The server writes it once, after the
// listener is bound and the OS-assigned port is known; clients only read
// it. It carries no secrets.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/orbitmenu/orbit/internal/protocol"
)

// ErrNotFound is returned by Read when no discovery file exists, which
// usually means no daemon is running.
var ErrNotFound = errors.New("discovery: file not found; is orbitd running?")

// Record advertises the bound port and the protocol version the server
// speaks. Clients must refuse to connect on a version mismatch.
type Record struct {
	Port       int `json:"port"`
	APIVersion int `json:"apiVersion"`
}

// Write persists a fresh record for the given port at path.
func Write(path string, port int) error {
	rec := Record{Port: port, APIVersion: protocol.APIVersion}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("discovery: encode record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("discovery: write %s: %w", path, err)
	}
	return nil
}

// Read loads the record at path.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("discovery: read %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("discovery: decode %s: %w", path, err)
	}
	if rec.Port <= 0 || rec.Port > 65535 {
		return Record{}, fmt.Errorf("discovery: %s advertises invalid port %d", path, rec.Port)
	}
	return rec, nil
}

// Remove deletes the discovery file. Missing files are not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discovery: remove %s: %w", path, err)
	}
	return nil
}
