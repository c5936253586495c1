package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMissingDebugInfo indicates the module carries no DWARF debug records.
// Analysis cannot resolve source locations without them, so loading fails.
var ErrMissingDebugInfo = errors.New("module has no debug info (compile with -g)")

// Load reads a module dump produced by the bitcode frontend.
func Load(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", path, err)
	}

	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse module %s: %w", path, err)
	}

	if m.DwarfVersion == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingDebugInfo)
	}

	for _, f := range m.Funcs {
		for i, bb := range f.Blocks {
			for _, s := range bb.Succs {
				if s < 0 || s >= len(f.Blocks) {
					return nil, fmt.Errorf("%s: function %s block %d has successor %d out of range",
						path, f.Name, i, s)
				}
			}
		}
	}

	return &m, nil
}

// Save writes the module back out in the same dump format.
func (m *Module) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal module: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write module %s: %w", path, err)
	}
	return nil
}
