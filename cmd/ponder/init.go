package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/ponder/examples"
)

// runInit writes an example config.yaml and script.yaml into dir and
// creates the data directory. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Ponder workspace in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	files := []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		// The config may end up holding API keys.
		{"config.yaml", examples.ConfigYAML, 0o600},
		{"script.yaml", examples.ScriptYAML, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		written, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		mark := "✓"
		if !written {
			mark = "-"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to choose a provider, then run: ponder chat")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist. It reports whether it wrote the file.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
